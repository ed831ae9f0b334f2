// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

// funcsOver adapts r through SourceFuncs, hiding its io.ReaderAt so that
// positioned reads go through tell and seek.
func funcsOver(r *bytes.Reader, closed *bool) *SourceFuncs {
	return &SourceFuncs{
		ReadFunc: r.Read,
		TellFunc: func() (int64, error) { return r.Seek(0, io.SeekCurrent) },
		SeekFunc: func(pos int64) error {
			_, err := r.Seek(pos, io.SeekStart)
			return err
		},
		CloseFunc: func() error {
			*closed = true
			return nil
		},
	}
}

func TestSourceFuncsRestoresCursor(t *testing.T) {
	data := []byte("0123456789abcdef")
	r := bytes.NewReader(data)
	var closed bool
	s := newSource(funcsOver(r, &closed))
	if s.ra != nil {
		t.Fatalf("SourceFuncs unexpectedly offers io.ReaderAt")
	}

	require.NoError(t, s.seek(7))
	buf := make([]byte, 4)
	if err := s.readAt(buf, 10); err != nil {
		t.Fatalf("readAt: %v", err)
	}
	if string(buf) != "abcd" {
		t.Errorf("readAt: got %q, want %q", buf, "abcd")
	}
	pos, err := s.tell()
	if err != nil {
		t.Fatalf("tell: %v", err)
	}
	if pos != 7 {
		t.Errorf("cursor after readAt: got %d, want 7", pos)
	}

	if err := s.readAt(buf, 14); !errors.Is(err, StatusReadError) {
		t.Errorf("short readAt: got %v, want %v", err, StatusReadError)
	}
	if pos, _ := s.tell(); pos != 7 {
		t.Errorf("cursor after failed readAt: got %d, want 7", pos)
	}

	if _, err := (&SourceFuncs{}).Seek(0, io.SeekEnd); !errors.Is(err, errSeekEndUnsupported) {
		t.Errorf("Seek(SeekEnd): got %v, want %v", err, errSeekEndUnsupported)
	}

	require.NoError(t, s.close())
	if !closed {
		t.Errorf("CloseFunc not called")
	}
	if err := (&SourceFuncs{}).Close(); err != nil {
		t.Errorf("Close with nil CloseFunc: %v", err)
	}
}

type readStringTestCase struct {
	name    string
	data    string
	off     int64
	want    string
	wantErr error
}

func TestReadStringAt(t *testing.T) {
	long := strings.Repeat("x", 3*stringChunkSize+5)
	testCases := []readStringTestCase{
		{name: "terminated", data: "\x00KERNEL32.dll\x00junk", off: 1, want: "KERNEL32.dll"},
		{name: "empty", data: "a\x00\x00", off: 1, want: ""},
		{name: "spans chunks", data: long + "\x00tail", want: long},
		{name: "unterminated at EOF", data: "\x00abc", off: 1, want: "abc"},
		{name: "at EOF", data: "abc", off: 3, wantErr: StatusReadError},
		{name: "too long", data: strings.Repeat("y", maxStringLen+1), wantErr: ErrBadLength},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, ra := range []bool{true, false} {
				r := bytes.NewReader([]byte(tc.data))
				var s *source
				if ra {
					s = newSource(r)
				} else {
					var closed bool
					s = newSource(funcsOver(r, &closed))
				}

				var pool bufferPool
				got, err := s.readStringAt(&pool, tc.off)
				if pool.outstanding() != 0 {
					t.Errorf("%d buffers left outstanding", pool.outstanding())
				}
				if tc.wantErr != nil {
					if !errors.Is(err, tc.wantErr) {
						t.Errorf("readStringAt (ReaderAt %v): got error %v, want %v", ra, err, tc.wantErr)
					}
					continue
				}
				if err != nil {
					t.Errorf("readStringAt (ReaderAt %v): %v", ra, err)
					continue
				}
				if got != tc.want {
					t.Errorf("readStringAt (ReaderAt %v): got %q, want %q", ra, got, tc.want)
				}
			}
		})
	}
}

func TestReadStructArrayLimits(t *testing.T) {
	s := newSource(bytes.NewReader(make([]byte, 64)))

	if _, err := readStructArray[uint32](s, 0, maxTableSize); !errors.Is(err, StatusOutOfMemory) {
		t.Errorf("oversized table: got %v, want %v", err, StatusOutOfMemory)
	}
	if got, err := readStructArray[uint32](s, 0, 0); err != nil || got != nil {
		t.Errorf("empty table: got (%v, %v), want (nil, nil)", got, err)
	}
	got, err := readStructArray[uint16](s, 60, 2)
	if err != nil {
		t.Fatalf("readStructArray: %v", err)
	}
	if !slices.Equal(got, []uint16{0, 0}) {
		t.Errorf("readStructArray: got %v", got)
	}
	if _, err := readStructArray[uint16](s, 62, 2); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("overrunning table: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

// The walkers must produce the same results through a custom source as
// through a reader that supports positioned reads.
func TestCustomSourceWalk(t *testing.T) {
	image := buildImportImage(t, false, false)

	var closed bool
	viaFuncs, err := NewPEFromReader(funcsOver(bytes.NewReader(image), &closed))
	require.NoError(t, err)
	got := collectImports(t, viaFuncs)
	viaFuncs.Close()
	if !closed {
		t.Errorf("Close did not close the custom source")
	}

	want := collectImports(t, openImage(t, image))
	if !slices.Equal(got, want) {
		t.Errorf("imports via SourceFuncs: got %q, want %q", got, want)
	}
}

// freadOver serves data the way fread does: a read past the end returns 0
// bytes and no error.
func freadOver(data []byte) *SourceFuncs {
	var pos int64
	return &SourceFuncs{
		ReadFunc: func(p []byte) (int, error) {
			if pos >= int64(len(data)) {
				return 0, nil
			}
			n := copy(p, data[pos:])
			pos += int64(n)
			return n, nil
		},
		TellFunc: func() (int64, error) { return pos, nil },
		SeekFunc: func(p int64) error {
			pos = p
			return nil
		},
	}
}

func TestFreadStyleSource(t *testing.T) {
	image := buildImportImage(t, true, false)

	for _, size := range []int{2, 0x50, 0xA0} {
		_, err := NewPEFromReader(freadOver(image[:size]))
		if !errors.Is(err, StatusReadError) {
			t.Errorf("%d-byte image: got %v, want %v", size, err, StatusReadError)
		}
	}

	nfo, err := NewPEFromReader(freadOver(image))
	require.NoError(t, err)
	defer nfo.Close()
	if got, want := collectImports(t, nfo), collectImports(t, openImage(t, image)); !slices.Equal(got, want) {
		t.Errorf("imports via fread-style source: got %q, want %q", got, want)
	}
}

type statusTestCase struct {
	status Status
	want   string
}

func TestStatusMessages(t *testing.T) {
	testCases := []statusTestCase{
		{StatusSuccess, "success"},
		{StatusOpenError, "file open error"},
		{StatusReadError, "file read error"},
		{StatusSeekError, "file seek error"},
		{StatusOutOfMemory, "memory allocation error"},
		{StatusNotPE, "not a PE file"},
		{StatusNotPELE, "wrong endianness"},
		{StatusWrongImage, "wrong image type"},
		{8, "(unknown status code)"},
		{-1, "(unknown status code)"},
	}
	for _, tc := range testCases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String(): got %q, want %q", int(tc.status), got, tc.want)
		}
	}

	if got := StatusOf(nil); got != StatusSuccess {
		t.Errorf("StatusOf(nil): got %v", got)
	}
	if got := StatusOf(io.EOF); got != -1 {
		t.Errorf("StatusOf(io.EOF): got %d, want -1", int(got))
	}
}
