// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// IMAGE_NT_OPTIONAL_HDR32_MAGIC identifies a PE32 optional header.
	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10B
	// IMAGE_NT_OPTIONAL_HDR64_MAGIC identifies a PE32+ optional header.
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20B
)

// OptionalHeader is the width-independent view of a PE optional header. Its
// dynamic type is either *OptionalHeader32 or *OptionalHeader64, chosen by the
// magic when the image is opened. The data directory is not part of either
// struct; see (*PEInfo).DataDirectory.
type OptionalHeader interface {
	GetMagic() uint16
	GetAddressOfEntryPoint() uint32
	GetImageBase() uint64
	GetSectionAlignment() uint32
	GetFileAlignment() uint32
	GetOperatingSystemVersion() (major, minor uint16)
	GetImageVersion() (major, minor uint16)
	GetSubsystemVersion() (major, minor uint16)
	GetSubsystem() uint16
	GetDllCharacteristics() uint16
	GetSizeOfImage() uint32
	GetSizeOfStackReserve() uint64
	GetSizeOfHeapReserve() uint64
	GetNumberOfRvaAndSizes() uint32
}

// OptionalHeader32 is the fixed portion of a PE32 optional header.
type OptionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

func (h *OptionalHeader32) GetMagic() uint16               { return h.Magic }
func (h *OptionalHeader32) GetAddressOfEntryPoint() uint32 { return h.AddressOfEntryPoint }
func (h *OptionalHeader32) GetImageBase() uint64           { return uint64(h.ImageBase) }
func (h *OptionalHeader32) GetSectionAlignment() uint32    { return h.SectionAlignment }
func (h *OptionalHeader32) GetFileAlignment() uint32       { return h.FileAlignment }
func (h *OptionalHeader32) GetSubsystem() uint16           { return h.Subsystem }
func (h *OptionalHeader32) GetDllCharacteristics() uint16  { return h.DllCharacteristics }
func (h *OptionalHeader32) GetSizeOfImage() uint32         { return h.SizeOfImage }
func (h *OptionalHeader32) GetSizeOfStackReserve() uint64  { return uint64(h.SizeOfStackReserve) }
func (h *OptionalHeader32) GetSizeOfHeapReserve() uint64   { return uint64(h.SizeOfHeapReserve) }
func (h *OptionalHeader32) GetNumberOfRvaAndSizes() uint32 { return h.NumberOfRvaAndSizes }

func (h *OptionalHeader32) GetOperatingSystemVersion() (major, minor uint16) {
	return h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion
}

func (h *OptionalHeader32) GetImageVersion() (major, minor uint16) {
	return h.MajorImageVersion, h.MinorImageVersion
}

func (h *OptionalHeader32) GetSubsystemVersion() (major, minor uint16) {
	return h.MajorSubsystemVersion, h.MinorSubsystemVersion
}

// OptionalHeader64 is the fixed portion of a PE32+ optional header. It has no
// BaseOfData, and its image base and stack/heap sizes are 64 bits wide.
type OptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

func (h *OptionalHeader64) GetMagic() uint16               { return h.Magic }
func (h *OptionalHeader64) GetAddressOfEntryPoint() uint32 { return h.AddressOfEntryPoint }
func (h *OptionalHeader64) GetImageBase() uint64           { return h.ImageBase }
func (h *OptionalHeader64) GetSectionAlignment() uint32    { return h.SectionAlignment }
func (h *OptionalHeader64) GetFileAlignment() uint32       { return h.FileAlignment }
func (h *OptionalHeader64) GetSubsystem() uint16           { return h.Subsystem }
func (h *OptionalHeader64) GetDllCharacteristics() uint16  { return h.DllCharacteristics }
func (h *OptionalHeader64) GetSizeOfImage() uint32         { return h.SizeOfImage }
func (h *OptionalHeader64) GetSizeOfStackReserve() uint64  { return h.SizeOfStackReserve }
func (h *OptionalHeader64) GetSizeOfHeapReserve() uint64   { return h.SizeOfHeapReserve }
func (h *OptionalHeader64) GetNumberOfRvaAndSizes() uint32 { return h.NumberOfRvaAndSizes }

func (h *OptionalHeader64) GetOperatingSystemVersion() (major, minor uint16) {
	return h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion
}

func (h *OptionalHeader64) GetImageVersion() (major, minor uint16) {
	return h.MajorImageVersion, h.MinorImageVersion
}

func (h *OptionalHeader64) GetSubsystemVersion() (major, minor uint16) {
	return h.MajorSubsystemVersion, h.MinorSubsystemVersion
}

// decodeOptionalHeader selects the optional header variant from the magic in
// raw and decodes it along with the data directory that follows it. A header
// shorter than its fixed portion is zero-extended; directory entries are
// limited to those actually present in raw and declared by NumberOfRvaAndSizes.
func decodeOptionalHeader(raw []byte) (OptionalHeader, []DataDirectoryEntry, error) {
	if len(raw) < 2 {
		return nil, nil, fmt.Errorf("%w: optional header of %d bytes", StatusWrongImage, len(raw))
	}

	var oh OptionalHeader
	switch magic := binary.LittleEndian.Uint16(raw); magic {
	case IMAGE_NT_OPTIONAL_HDR32_MAGIC:
		oh = new(OptionalHeader32)
	case IMAGE_NT_OPTIONAL_HDR64_MAGIC:
		oh = new(OptionalHeader64)
	default:
		return nil, nil, fmt.Errorf("%w: optional header magic 0x%04X", StatusWrongImage, magic)
	}

	fixedLen := binary.Size(oh)
	fixed := raw
	if len(fixed) < fixedLen {
		fixed = make([]byte, fixedLen)
		copy(fixed, raw)
	}
	if err := binary.Read(bytes.NewReader(fixed[:fixedLen]), binary.LittleEndian, oh); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", StatusReadError, err)
	}

	var dd []DataDirectoryEntry
	if len(raw) > fixedLen {
		count := (len(raw) - fixedLen) / binary.Size(DataDirectoryEntry{})
		if declared := oh.GetNumberOfRvaAndSizes(); uint64(declared) < uint64(count) {
			count = int(declared)
		}
		dd = make([]DataDirectoryEntry, count)
		if err := binary.Read(bytes.NewReader(raw[fixedLen:]), binary.LittleEndian, dd); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", StatusReadError, err)
		}
	}

	return oh, dd, nil
}
