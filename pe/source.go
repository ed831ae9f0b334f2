// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/exp/constraints"
)

const (
	stringChunkSize = 64
	maxStringLen    = 32 << 10
	maxTableSize    = 16 << 20
)

// SourceFuncs adapts four caller-supplied I/O capabilities into an
// io.ReadSeekCloser suitable for NewPEFromReader. It allows the parser to run
// over media that are not files: a network stream, a decompressor with an
// index, a memory region, and so on.
//
// ReadFunc may follow either the io.Reader contract or the fread one, in which
// returning 0 bytes with a nil error means end of input. TellFunc reports the
// current absolute position and SeekFunc moves to an absolute position.
// CloseFunc may be nil.
type SourceFuncs struct {
	ReadFunc  func(p []byte) (int, error)
	TellFunc  func() (int64, error)
	SeekFunc  func(pos int64) error
	CloseFunc func() error
}

var errSeekEndUnsupported = errors.New("seeking relative to the end is not supported by SourceFuncs")

func (sf *SourceFuncs) Read(p []byte) (int, error) {
	n, err := sf.ReadFunc(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Seek implements io.Seeker in terms of TellFunc and SeekFunc.
func (sf *SourceFuncs) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		cur, err := sf.TellFunc()
		if err != nil {
			return 0, err
		}
		if offset == 0 {
			return cur, nil
		}
		pos = cur + offset
	default:
		return 0, errSeekEndUnsupported
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	if err := sf.SeekFunc(pos); err != nil {
		return 0, err
	}
	return pos, nil
}

func (sf *SourceFuncs) Close() error {
	if sf.CloseFunc == nil {
		return nil
	}
	return sf.CloseFunc()
}

// source is the parser's view of the byte source. All reads performed on
// behalf of directory walkers go through readAt, which leaves the cursor where
// the caller had it.
type source struct {
	r  io.ReadSeeker
	ra io.ReaderAt
	c  io.Closer
}

func newSource(r io.ReadSeeker) *source {
	s := &source{r: r}
	if ra, ok := r.(io.ReaderAt); ok {
		s.ra = ra
	}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *source) tell() (int64, error) {
	pos, err := s.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", StatusSeekError, err)
	}
	return pos, nil
}

func (s *source) seek(pos int64) error {
	if _, err := s.r.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to 0x%X: %w", StatusSeekError, pos, err)
	}
	return nil
}

// readFull reads exactly len(buf) bytes at the cursor.
func (s *source) readFull(buf []byte) error {
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return fmt.Errorf("%w: %w", StatusReadError, err)
	}
	return nil
}

// readAtMost reads up to len(buf) bytes at off without disturbing the cursor.
// A short read at the end of the medium is not an error as long as at least
// one byte was read.
func (s *source) readAtMost(buf []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", StatusSeekError, off)
	}
	if s.ra != nil {
		n, err = s.ra.ReadAt(buf, off)
	} else {
		var pos int64
		if pos, err = s.tell(); err != nil {
			return 0, err
		}
		defer func() {
			if rerr := s.seek(pos); rerr != nil && err == nil {
				err = rerr
			}
		}()
		if err = s.seek(off); err != nil {
			return 0, err
		}
		n, err = io.ReadFull(s.r, buf)
	}
	if n > 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: reading 0x%X bytes at 0x%X: %w", StatusReadError, len(buf), off, err)
	}
	return n, nil
}

// readAt reads exactly len(buf) bytes at off without disturbing the cursor.
func (s *source) readAt(buf []byte, off int64) error {
	n, err := s.readAtMost(buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: reading 0x%X bytes at 0x%X: %w", StatusReadError, len(buf), off, io.ErrUnexpectedEOF)
	}
	return nil
}

// readStringAt reads a NUL-terminated byte string at off. The string is read
// in fixed steps into a pooled buffer; a string cut short by the end of the
// medium is returned as far as it goes.
func (s *source) readStringAt(pool *bufferPool, off int64) (string, error) {
	buf := pool.get()
	defer pool.put(buf)

	var chunk [stringChunkSize]byte
	for buf.Len() < maxStringLen {
		n, err := s.readAtMost(chunk[:], off+int64(buf.Len()))
		if err != nil {
			if buf.Len() > 0 {
				break
			}
			return "", err
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			buf.Write(chunk[:i])
			return buf.String(), nil
		}
		buf.Write(chunk[:n])
		if n < len(chunk) {
			break
		}
	}
	if buf.Len() >= maxStringLen {
		return "", fmt.Errorf("%w: string at 0x%X exceeds %d bytes", ErrBadLength, off, maxStringLen)
	}
	return buf.String(), nil
}

func (s *source) close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// bufferPool hands out growable scratch buffers for string reads and keeps
// count of the ones that have not been returned.
type bufferPool struct {
	pool       sync.Pool
	checkedOut int
}

func (p *bufferPool) get() *bytes.Buffer {
	p.checkedOut++
	if b, ok := p.pool.Get().(*bytes.Buffer); ok {
		b.Reset()
		return b
	}
	return new(bytes.Buffer)
}

func (p *bufferPool) put(b *bytes.Buffer) {
	p.checkedOut--
	p.pool.Put(b)
}

// outstanding reports how many buffers are currently checked out.
func (p *bufferPool) outstanding() int {
	return p.checkedOut
}

func readStruct[T any, O constraints.Integer](s *source, off O) (*T, error) {
	result := new(T)
	buf := make([]byte, binary.Size(result))
	if err := s.readAt(buf, int64(off)); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, result); err != nil {
		return nil, err
	}
	return result, nil
}

func readStructArray[T any, O constraints.Integer](s *source, off O, count int) ([]T, error) {
	if count < 0 {
		return nil, ErrIndexOutOfRange
	}
	var zero T
	total := int64(binary.Size(zero)) * int64(count)
	if total > maxTableSize {
		return nil, fmt.Errorf("%w: table of %d entries at 0x%X", StatusOutOfMemory, count, int64(off))
	}
	if count == 0 {
		return nil, nil
	}
	buf := make([]byte, total)
	if err := s.readAt(buf, int64(off)); err != nil {
		return nil, err
	}
	result := make([]T, count)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, result); err != nil {
		return nil, err
	}
	return result, nil
}
