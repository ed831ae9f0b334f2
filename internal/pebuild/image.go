// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pebuild assembles small, well-formed PE32 and PE32+ images in memory
// for use as test fixtures.
package pebuild

import (
	"bytes"
	dpe "debug/pe"
	"encoding/binary"
)

const (
	// PEHeaderOffset is the file offset of the PE signature (e_lfanew).
	PEHeaderOffset = 0x80
	// HeadersSize is the file offset of the first section's raw data. It
	// leaves room for tools that append a section header.
	HeadersSize = 0x400

	SectionAlignment = 0x1000
	FileAlignment    = 0x200

	sizeOptionalHeader32 = 96
	sizeOptionalHeader64 = 112
	numDataDirectories   = 16

	// CodeCharacteristics marks a section as executable code.
	CodeCharacteristics = dpe.IMAGE_SCN_CNT_CODE | dpe.IMAGE_SCN_MEM_EXECUTE | dpe.IMAGE_SCN_MEM_READ
	// DataCharacteristics marks a section as read-only initialized data.
	DataCharacteristics = dpe.IMAGE_SCN_CNT_INITIALIZED_DATA | dpe.IMAGE_SCN_MEM_READ
)

// Section is one section of an Image. Zero VirtualAddress and VirtualSize are
// filled in by Bytes.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Data            []byte
	Characteristics uint32
}

// Image describes a PE image to assemble.
type Image struct {
	Is64            bool
	Machine         uint16 // defaults to i386 or amd64
	Characteristics uint16
	Subsystem       uint16
	EntryPoint      uint32
	// DataDirectory entries beyond NumberOfRvaAndSizes are dropped.
	DataDirectory       [numDataDirectories]dpe.DataDirectory
	NumberOfRvaAndSizes uint32 // defaults to 16
	// OmitOptionalHeader produces an image whose COFF header declares a
	// zero-length optional header.
	OmitOptionalHeader bool
	// OptionalHeaderSize, when nonzero, truncates the optional header to
	// this many bytes.
	OptionalHeaderSize uint16
	Sections           []*Section
}

// AddSection appends a section placed after the current last one and returns
// it so that callers can compute RVAs before filling in its data.
func (img *Image) AddSection(name string, characteristics uint32) *Section {
	va := uint32(SectionAlignment)
	if n := len(img.Sections); n > 0 {
		last := img.Sections[n-1]
		va = alignUp(last.VirtualAddress+max(last.VirtualSize, uint32(len(last.Data)), 1), SectionAlignment)
	}
	s := &Section{Name: name, VirtualAddress: va, Characteristics: characteristics}
	img.Sections = append(img.Sections, s)
	return s
}

// SetDirectory sets data directory entry idx.
func (img *Image) SetDirectory(idx int, rva, size uint32) {
	img.DataDirectory[idx] = dpe.DataDirectory{VirtualAddress: rva, Size: size}
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// Bytes lays the image out and returns its file contents.
func (img *Image) Bytes() []byte {
	machine := img.Machine
	if machine == 0 {
		machine = dpe.IMAGE_FILE_MACHINE_I386
		if img.Is64 {
			machine = dpe.IMAGE_FILE_MACHINE_AMD64
		}
	}
	numDirs := img.NumberOfRvaAndSizes
	if numDirs == 0 {
		numDirs = numDataDirectories
	}

	fileOff := uint32(HeadersSize)
	var sizeOfImage uint32 = SectionAlignment
	headers := make([]dpe.SectionHeader32, len(img.Sections))
	for i, s := range img.Sections {
		if s.VirtualAddress == 0 {
			s.VirtualAddress = alignUp(sizeOfImage, SectionAlignment)
		}
		if s.VirtualSize == 0 {
			s.VirtualSize = uint32(len(s.Data))
		}
		h := &headers[i]
		copy(h.Name[:], s.Name)
		h.VirtualSize = s.VirtualSize
		h.VirtualAddress = s.VirtualAddress
		h.SizeOfRawData = alignUp(uint32(len(s.Data)), FileAlignment)
		if h.SizeOfRawData != 0 {
			h.PointerToRawData = fileOff
		}
		h.Characteristics = s.Characteristics
		fileOff += h.SizeOfRawData
		sizeOfImage = max(sizeOfImage, alignUp(s.VirtualAddress+max(s.VirtualSize, 1), SectionAlignment))
	}

	var opt bytes.Buffer
	if !img.OmitOptionalHeader {
		img.writeOptionalHeader(&opt, numDirs, sizeOfImage)
		if img.OptionalHeaderSize != 0 && int(img.OptionalHeaderSize) < opt.Len() {
			opt.Truncate(int(img.OptionalHeaderSize))
		}
	}

	var b bytes.Buffer
	var dos [PEHeaderOffset]byte
	binary.LittleEndian.PutUint16(dos[0:], 0x5A4D)
	binary.LittleEndian.PutUint32(dos[60:], PEHeaderOffset)
	b.Write(dos[:])

	b.WriteString("PE\x00\x00")
	characteristics := img.Characteristics | dpe.IMAGE_FILE_EXECUTABLE_IMAGE
	if !img.Is64 {
		characteristics |= dpe.IMAGE_FILE_32BIT_MACHINE
	}
	binary.Write(&b, binary.LittleEndian, dpe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(img.Sections)),
		SizeOfOptionalHeader: uint16(opt.Len()),
		Characteristics:      characteristics,
	})
	b.Write(opt.Bytes())
	binary.Write(&b, binary.LittleEndian, headers)

	out := make([]byte, fileOff)
	copy(out, b.Bytes())
	for i, s := range img.Sections {
		copy(out[headers[i].PointerToRawData:], s.Data)
	}
	return out
}

func (img *Image) writeOptionalHeader(w *bytes.Buffer, numDirs, sizeOfImage uint32) {
	subsystem := img.Subsystem
	if subsystem == 0 {
		subsystem = dpe.IMAGE_SUBSYSTEM_WINDOWS_CUI
	}

	// The data directory arrays of the debug/pe structs are fixed at 16
	// entries, so only the fixed part is kept and the directory written
	// separately.
	var hdr bytes.Buffer
	fixed := sizeOptionalHeader32
	if img.Is64 {
		fixed = sizeOptionalHeader64
		binary.Write(&hdr, binary.LittleEndian, dpe.OptionalHeader64{
			Magic:                       0x20B,
			MajorLinkerVersion:          14,
			AddressOfEntryPoint:         img.EntryPoint,
			ImageBase:                   0x140000000,
			SectionAlignment:            SectionAlignment,
			FileAlignment:               FileAlignment,
			MajorOperatingSystemVersion: 6,
			MajorImageVersion:           1,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               HeadersSize,
			Subsystem:                   subsystem,
			DllCharacteristics:          dpe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         numDirs,
		})
	} else {
		binary.Write(&hdr, binary.LittleEndian, dpe.OptionalHeader32{
			Magic:                       0x10B,
			MajorLinkerVersion:          14,
			AddressOfEntryPoint:         img.EntryPoint,
			ImageBase:                   0x400000,
			SectionAlignment:            SectionAlignment,
			FileAlignment:               FileAlignment,
			MajorOperatingSystemVersion: 6,
			MajorImageVersion:           1,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               HeadersSize,
			Subsystem:                   subsystem,
			DllCharacteristics:          dpe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         numDirs,
		})
	}
	w.Write(hdr.Bytes()[:fixed])
	for i := uint32(0); i < numDirs; i++ {
		var dd dpe.DataDirectory
		if i < numDataDirectories {
			dd = img.DataDirectory[i]
		}
		binary.Write(w, binary.LittleEndian, dd)
	}
}
