// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// IMAGE_DEBUG_DIRECTORY describes debug information embedded in the binary.
type IMAGE_DEBUG_DIRECTORY struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32 // an IMAGE_DEBUG_TYPE constant
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

const sizeIMAGE_DEBUG_DIRECTORY = 28

// IMAGE_DEBUG_TYPE_CODEVIEW identifies the current IMAGE_DEBUG_DIRECTORY as
// pointing to CodeView debug information.
const IMAGE_DEBUG_TYPE_CODEVIEW = 2

// codeViewRSDS is the signature of a PDB 7.0 CodeView record.
const codeViewRSDS = 0x53445352

// GUID is a Windows GUID in its in-memory layout.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) String() string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X-%X}", g.Data1, g.Data2, g.Data3, g.Data4[:2], g.Data4[2:])
}

// IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED contains CodeView debug information
// embedded in the PE file. Note that this structure's ABI does not match its C
// counterpart because the latter is packed.
type IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED struct {
	GUID    GUID
	Age     uint32
	PDBPath string
}

// String returns the data from u formatted in the same way that Microsoft
// debugging tools and symbol servers use to identify PDB files corresponding
// to a specific binary.
func (u *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08X%04X%04X", u.GUID.Data1, u.GUID.Data2, u.GUID.Data3)
	for _, v := range u.GUID.Data4 {
		fmt.Fprintf(&b, "%02X", v)
	}
	fmt.Fprintf(&b, "%X", u.Age)
	return b.String()
}

func (u *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED) unpack(r *bufio.Reader) error {
	var signature uint32
	if err := binary.Read(r, binary.LittleEndian, &signature); err != nil {
		return err
	}
	if signature != codeViewRSDS {
		return fmt.Errorf("%w: signature 0x%08X", ErrNotCodeView, signature)
	}
	if err := binary.Read(r, binary.LittleEndian, &u.GUID); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &u.Age); err != nil {
		return err
	}

	var pdbBytes []byte
	for b, err := r.ReadByte(); err == nil && b != 0; b, err = r.ReadByte() {
		pdbBytes = append(pdbBytes, b)
	}

	u.PDBPath = string(pdbBytes)
	return nil
}

// DebugDirectories returns the entries of the debug data directory. It returns
// ErrNotPresent when the image has none.
func (nfo *PEInfo) DebugDirectories() ([]IMAGE_DEBUG_DIRECTORY, error) {
	if nfo.OptionalHeader() == nil {
		return nil, fmt.Errorf("reading debug directory: %w", StatusWrongImage)
	}
	dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_DEBUG)
	if err != nil {
		return nil, ErrNotPresent
	}
	off, sect, ok := nfo.resolveRVA(dde.VirtualAddress)
	if !ok {
		return nil, fmt.Errorf("%w: debug directory at %s", errUnmappedRVA, hexField(dde.VirtualAddress))
	}

	count := dde.Size / sizeIMAGE_DEBUG_DIRECTORY
	if avail := (sect.rawEnd() - off) / sizeIMAGE_DEBUG_DIRECTORY; int64(count) > avail {
		nfo.log.WithField("entries", count).Debug("debug directory overruns its section")
		count = uint32(avail)
	}
	return readStructArray[IMAGE_DEBUG_DIRECTORY](nfo.r, off, int(count))
}

// ExtractCodeViewInfo obtains CodeView debug information from de, assuming that
// de represents CodeView debug info.
func (nfo *PEInfo) ExtractCodeViewInfo(de IMAGE_DEBUG_DIRECTORY) (*IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED, error) {
	if de.Type != IMAGE_DEBUG_TYPE_CODEVIEW {
		return nil, ErrNotCodeView
	}

	cv := new(IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED)
	sr := io.NewSectionReader(nfo, int64(de.PointerToRawData), int64(de.SizeOfData))
	if err := cv.unpack(bufio.NewReader(sr)); err != nil {
		return nil, err
	}

	return cv, nil
}

// CodeViewInfo returns the first CodeView record of the debug directory.
func (nfo *PEInfo) CodeViewInfo() (*IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED, error) {
	dirs, err := nfo.DebugDirectories()
	if err != nil {
		return nil, err
	}
	for _, de := range dirs {
		if de.Type == IMAGE_DEBUG_TYPE_CODEVIEW {
			return nfo.ExtractCodeViewInfo(de)
		}
	}
	return nil, ErrNotPresent
}
