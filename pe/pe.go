// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pe provides a robust parser for PE binaries. It decodes the headers
// and section table of a PE32 or PE32+ image from any seekable byte source and
// walks its import, export and resource directories on behalf of a visitor.
package pe

import (
	dpe "debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// PEInfo represents the parsed headers of a PE binary along with the byte
// source they were read from. A PEInfo is not safe for concurrent use.
type PEInfo struct {
	r              *source
	log            logrus.FieldLogger
	bufs           bufferPool
	dosHeader      *DOSHeader
	fileHeader     *dpe.FileHeader
	optionalHeader OptionalHeader
	dataDirectory  []DataDirectoryEntry
	sections       []SectionHeader
	release        func() error
}

const (
	IMAGE_DOS_SIGNATURE = 0x5A4D     // MZ
	IMAGE_NT_SIGNATURE  = 0x00004550 // PE\0\0
)

// DOSHeader is the MS-DOS stub header at the start of every PE image.
type DOSHeader struct {
	Magic    uint16
	Cblp     uint16
	Cp       uint16
	Crlc     uint16
	Cparhdr  uint16
	Minalloc uint16
	Maxalloc uint16
	Ss       uint16
	Sp       uint16
	Csum     uint16
	Ip       uint16
	Cs       uint16
	Lfarlc   uint16
	Ovno     uint16
	Res      [4]uint16
	Oemid    uint16
	Oeminfo  uint16
	Res2     [10]uint16
	Lfanew   uint32
}

// Option configures a PEInfo at construction time.
type Option func(*PEInfo)

// WithLogger directs diagnostics about malformed directory contents to log.
// By default they are discarded.
func WithLogger(log logrus.FieldLogger) Option {
	return func(nfo *PEInfo) {
		nfo.log = log
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewPEFromFileName opens a PE binary located at filename and parses its PE
// headers. Upon success it returns a non-nil *PEInfo, otherwise it returns a
// nil *PEInfo and a non-nil error.
// Call Close() on the returned *PEInfo when it is no longer needed.
func NewPEFromFileName(filename string, opts ...Option) (*PEInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", StatusOpenError, err)
	}

	opts = append(opts[:len(opts):len(opts)], withFields(logrus.Fields{"file": filename}))
	return newPEFromFile(f, opts...)
}

func newPEFromFile(f *os.File, opts ...Option) (*PEInfo, error) {
	nfo, err := loadHeaders(newSource(f), opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return nfo, nil
}

// NewPEFromReader parses the PE headers from r, which may be any seekable
// medium; see SourceFuncs for adapting custom I/O functions. If r also
// implements io.Closer, (*PEInfo).Close closes it. On failure r is left open.
func NewPEFromReader(r io.ReadSeeker, opts ...Option) (*PEInfo, error) {
	return loadHeaders(newSource(r), opts...)
}

func withFields(fields logrus.Fields) Option {
	return func(nfo *PEInfo) {
		nfo.log = nfo.log.WithFields(fields)
	}
}

func loadHeaders(r *source, opts ...Option) (*PEInfo, error) {
	nfo := &PEInfo{r: r, log: discardLogger()}
	for _, o := range opts {
		o(nfo)
	}

	if err := r.seek(0); err != nil {
		return nil, err
	}

	var dosHeader DOSHeader
	if err := binary.Read(r.r, binary.LittleEndian, &dosHeader); err != nil {
		return nil, fmt.Errorf("reading DOS header: %w: %w", StatusReadError, err)
	}
	if dosHeader.Magic != IMAGE_DOS_SIGNATURE {
		return nil, fmt.Errorf("DOS magic 0x%04X: %w", dosHeader.Magic, StatusNotPE)
	}

	if err := r.seek(int64(dosHeader.Lfanew)); err != nil {
		return nil, err
	}

	var peMagic uint32
	if err := binary.Read(r.r, binary.LittleEndian, &peMagic); err != nil {
		return nil, fmt.Errorf("reading PE signature: %w: %w", StatusReadError, err)
	}
	if peMagic != IMAGE_NT_SIGNATURE {
		return nil, fmt.Errorf("PE signature 0x%08X: %w", peMagic, StatusNotPELE)
	}

	fileHeader := new(dpe.FileHeader)
	if err := binary.Read(r.r, binary.LittleEndian, fileHeader); err != nil {
		return nil, fmt.Errorf("reading COFF header: %w: %w", StatusReadError, err)
	}

	if size := fileHeader.SizeOfOptionalHeader; size > 0 {
		raw := make([]byte, size)
		if err := r.readFull(raw); err != nil {
			return nil, fmt.Errorf("reading optional header: %w", err)
		}
		oh, dd, err := decodeOptionalHeader(raw)
		if err != nil {
			return nil, err
		}
		nfo.optionalHeader = oh
		nfo.dataDirectory = dd
	}

	sections := make([]SectionHeader, fileHeader.NumberOfSections)
	for i := range sections {
		if err := binary.Read(r.r, binary.LittleEndian, &sections[i].SectionHeader32); err != nil {
			return nil, fmt.Errorf("reading section header %d: %w: %w", i, StatusReadError, err)
		}
	}

	nfo.dosHeader = &dosHeader
	nfo.fileHeader = fileHeader
	nfo.sections = sections
	nfo.release = r.close
	return nfo, nil
}

// Close releases the byte source and forgets all parsed headers. It is safe
// to call Close more than once.
func (nfo *PEInfo) Close() error {
	if nfo == nil {
		return nil
	}
	release := nfo.release
	nfo.release = nil
	nfo.dosHeader = nil
	nfo.fileHeader = nil
	nfo.optionalHeader = nil
	nfo.dataDirectory = nil
	nfo.sections = nil
	if release == nil {
		return nil
	}
	return release()
}

// ReadAt reads len(p) bytes at file offset off, as specified by io.ReaderAt.
// The byte source's cursor is left where it was.
func (nfo *PEInfo) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := nfo.r.readAtMost(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// DOSHeader returns the MS-DOS header of the image.
func (nfo *PEInfo) DOSHeader() *DOSHeader {
	if nfo == nil {
		return nil
	}
	return nfo.dosHeader
}

// FileHeader returns the COFF file header of the image.
func (nfo *PEInfo) FileHeader() *dpe.FileHeader {
	if nfo == nil {
		return nil
	}
	return nfo.fileHeader
}

// OptionalHeader returns the optional header, or nil when the image declares
// a zero-length optional header.
func (nfo *PEInfo) OptionalHeader() OptionalHeader {
	if nfo == nil {
		return nil
	}
	return nfo.optionalHeader
}

func (nfo *PEInfo) Machine() uint16 {
	if nfo == nil || nfo.fileHeader == nil {
		return 0
	}
	return nfo.fileHeader.Machine
}

func (nfo *PEInfo) Characteristics() uint16 {
	if nfo == nil || nfo.fileHeader == nil {
		return 0
	}
	return nfo.fileHeader.Characteristics
}

// IsDLL reports whether the image is a dynamic-link library.
func (nfo *PEInfo) IsDLL() bool {
	return nfo.Characteristics()&dpe.IMAGE_FILE_DLL != 0
}

// IsStripped reports whether debugging information has been removed from the
// image.
func (nfo *PEInfo) IsStripped() bool {
	return nfo.Characteristics()&dpe.IMAGE_FILE_DEBUG_STRIPPED != 0
}

// Signature returns the optional header magic: 0x10B for PE32, 0x20B for
// PE32+, or 0 when there is no optional header.
func (nfo *PEInfo) Signature() uint16 {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0
	}
	return nfo.optionalHeader.GetMagic()
}

func (nfo *PEInfo) Is64Bit() bool {
	return nfo.Signature() == IMAGE_NT_OPTIONAL_HDR64_MAGIC
}

func (nfo *PEInfo) Subsystem() uint16 {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0
	}
	return nfo.optionalHeader.GetSubsystem()
}

// SubsystemVersion returns the minimum subsystem version, which is the
// minimum version of Windows the image will load on.
func (nfo *PEInfo) SubsystemVersion() (major, minor uint16) {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0, 0
	}
	return nfo.optionalHeader.GetSubsystemVersion()
}

func (nfo *PEInfo) OperatingSystemVersion() (major, minor uint16) {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0, 0
	}
	return nfo.optionalHeader.GetOperatingSystemVersion()
}

// ImageVersion returns the file version recorded by the linker.
func (nfo *PEInfo) ImageVersion() (major, minor uint16) {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0, 0
	}
	return nfo.optionalHeader.GetImageVersion()
}

func (nfo *PEInfo) ImageBase() uint64 {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0
	}
	return nfo.optionalHeader.GetImageBase()
}

// EntryPoint returns the RVA of the entry point.
func (nfo *PEInfo) EntryPoint() uint32 {
	if nfo == nil || nfo.optionalHeader == nil {
		return 0
	}
	return nfo.optionalHeader.GetAddressOfEntryPoint()
}

// DataDirectoryEntry is one (RVA, size) pair of the optional header's data
// directory.
type DataDirectoryEntry struct {
	VirtualAddress uint32
	Size           uint32
}

// DataDirectoryIndex identifies a slot in the data directory.
type DataDirectoryIndex int

const (
	IMAGE_DIRECTORY_ENTRY_EXPORT         DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_EXPORT
	IMAGE_DIRECTORY_ENTRY_IMPORT         DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_IMPORT
	IMAGE_DIRECTORY_ENTRY_RESOURCE       DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_RESOURCE
	IMAGE_DIRECTORY_ENTRY_EXCEPTION      DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_EXCEPTION
	IMAGE_DIRECTORY_ENTRY_SECURITY       DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_SECURITY
	IMAGE_DIRECTORY_ENTRY_BASERELOC      DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_BASERELOC
	IMAGE_DIRECTORY_ENTRY_DEBUG          DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_DEBUG
	IMAGE_DIRECTORY_ENTRY_ARCHITECTURE   DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_ARCHITECTURE
	IMAGE_DIRECTORY_ENTRY_GLOBALPTR      DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_GLOBALPTR
	IMAGE_DIRECTORY_ENTRY_TLS            DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_TLS
	IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG    DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG
	IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT   DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT
	IMAGE_DIRECTORY_ENTRY_IAT            DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_IAT
	IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT   DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT
	IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR DataDirectoryIndex = dpe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
)

// DataDirectory returns the data directory entries that the image both
// declares and contains.
func (nfo *PEInfo) DataDirectory() []DataDirectoryEntry {
	if nfo == nil {
		return nil
	}
	return nfo.dataDirectory
}

// DataDirectoryEntry returns nfo's data directory entry at index idx. It
// returns ErrIndexOutOfRange when the image declares fewer entries and
// ErrNotPresent when the entry is empty.
func (nfo *PEInfo) DataDirectoryEntry(idx DataDirectoryIndex) (DataDirectoryEntry, error) {
	dd := nfo.DataDirectory()
	if idx < 0 || int(idx) >= len(dd) {
		return DataDirectoryEntry{}, ErrIndexOutOfRange
	}

	dde := dd[idx]
	if dde.VirtualAddress == 0 {
		return DataDirectoryEntry{}, ErrNotPresent
	}
	return dde, nil
}
