// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	dpe "debug/pe"
)

// SectionHeader describes one entry of the section table.
type SectionHeader struct {
	dpe.SectionHeader32
}

// NameString returns the section name, which is stored in a fixed 8-byte field
// that is NUL-padded but not necessarily NUL-terminated.
func (s *SectionHeader) NameString() string {
	for i, c := range s.Name {
		if c == 0 {
			return string(s.Name[:i])
		}
	}

	return string(s.Name[:])
}

// Contains reports whether rva falls within the file-backed part of s, that is
// [VirtualAddress, VirtualAddress+SizeOfRawData).
func (s *SectionHeader) Contains(rva uint32) bool {
	return rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(s.SizeOfRawData)
}

// IsCode reports whether s is marked as containing executable code.
func (s *SectionHeader) IsCode() bool {
	return s.Characteristics&dpe.IMAGE_SCN_CNT_CODE != 0
}

func (s *SectionHeader) fileOffset(rva uint32) int64 {
	return int64(rva) - int64(s.VirtualAddress) + int64(s.PointerToRawData)
}

// rawEnd returns the file offset just past the section's raw data.
func (s *SectionHeader) rawEnd() int64 {
	return int64(s.PointerToRawData) + int64(s.SizeOfRawData)
}

func (nfo *PEInfo) NumberOfSections() int {
	if nfo == nil {
		return 0
	}
	return len(nfo.sections)
}

// Sections returns the section table in file order.
func (nfo *PEInfo) Sections() []SectionHeader {
	if nfo == nil {
		return nil
	}
	return nfo.sections
}

// FindSection returns the first section whose raw extent contains rva, or nil
// when rva is not backed by any section's file data.
func (nfo *PEInfo) FindSection(rva uint32) *SectionHeader {
	if nfo == nil {
		return nil
	}
	for i := range nfo.sections {
		if nfo.sections[i].Contains(rva) {
			return &nfo.sections[i]
		}
	}
	return nil
}

// findSectionByName returns the first section called name.
func (nfo *PEInfo) findSectionByName(name string) *SectionHeader {
	for i := range nfo.sections {
		if nfo.sections[i].NameString() == name {
			return &nfo.sections[i]
		}
	}
	return nil
}

// resolveRVA converts rva into a file offset through the section containing it.
func (nfo *PEInfo) resolveRVA(rva uint32) (int64, *SectionHeader, bool) {
	s := nfo.FindSection(rva)
	if s == nil {
		return 0, nil, false
	}
	return s.fileOffset(rva), s, true
}
