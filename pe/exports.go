// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// IMAGE_EXPORT_DIRECTORY is the header of the export directory.
type IMAGE_EXPORT_DIRECTORY struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32 // Export Address Table
	AddressOfNames        uint32 // Export Name Table
	AddressOfNameOrdinals uint32 // Export Ordinal Table
}

const sizeIMAGE_EXPORT_DIRECTORY = 40

// Export describes one symbol exported by the image.
type Export struct {
	// Module is the name the image records for itself.
	Module string
	// Name is empty for symbols exported by ordinal only.
	Name string
	// Ordinal is biased by the directory's Base. It is 0 when the ordinal of
	// a named export could not be determined.
	Ordinal uint32
	// RVA is the export's address, or 0 when it could not be determined.
	RVA uint32
	// IsData is set when the address lies outside any code section.
	IsData bool
	// Forwarder holds the "module.function" target of a forwarded export.
	Forwarder string
}

// IsForwarded reports whether e redirects to a symbol in another module.
func (e *Export) IsForwarded() bool {
	return e.Forwarder != ""
}

// ExportVisitor is called once for every symbol exported by the image.
// Returning SkipAll stops the walk without error; any other non-nil error
// stops the walk and is returned from Exports.
type ExportVisitor func(e Export) error

// exportDirectory is an export directory located in the file, along with the
// extent it declares for itself.
type exportDirectory struct {
	rva     uint32
	size    uint32
	section *SectionHeader
	offset  int64
}

// Exports walks the export directory of nfo, calling visit for each exported
// symbol. Symbols exported by ordinal only are reported in address table
// order; otherwise named symbols are reported in name table order.
//
// When the data directory has no usable export entry, a section named .edata
// is walked instead, with the directory at its start.
func (nfo *PEInfo) Exports(visit ExportVisitor) error {
	if nfo.OptionalHeader() == nil {
		return fmt.Errorf("listing exports: %w", StatusWrongImage)
	}

	dir, ok := nfo.locateExportDirectory()
	if !ok {
		return nil
	}

	if err := nfo.walkExportDirectory(dir, visit); err != nil && err != SkipAll {
		return err
	}
	return nil
}

func (nfo *PEInfo) locateExportDirectory() (exportDirectory, bool) {
	if dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_EXPORT); err == nil {
		if off, sect, ok := nfo.resolveRVA(dde.VirtualAddress); ok {
			return exportDirectory{rva: dde.VirtualAddress, size: dde.Size, section: sect, offset: off}, true
		}
		nfo.log.WithField("rva", hexField(dde.VirtualAddress)).Warn("export directory is not backed by any section")
	}

	if s := nfo.findSectionByName(".edata"); s != nil && s.PointerToRawData != 0 && s.SizeOfRawData != 0 {
		return exportDirectory{rva: s.VirtualAddress, size: s.SizeOfRawData, section: s, offset: int64(s.PointerToRawData)}, true
	}
	return exportDirectory{}, false
}

// readExportDirectory reads the directory header, tolerating a declared size
// shorter than the full structure.
func (nfo *PEInfo) readExportDirectory(dir exportDirectory) (*IMAGE_EXPORT_DIRECTORY, error) {
	buf := make([]byte, sizeIMAGE_EXPORT_DIRECTORY)
	n := len(buf)
	if dir.size != 0 && dir.size < uint32(n) {
		n = int(dir.size)
	}
	if end := dir.section.rawEnd(); dir.offset+int64(n) > end {
		n = int(end - dir.offset)
	}
	if err := nfo.r.readAt(buf[:n], dir.offset); err != nil {
		return nil, err
	}

	ed := new(IMAGE_EXPORT_DIRECTORY)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, ed); err != nil {
		return nil, err
	}
	return ed, nil
}

// readTableRVA reads count little-endian values of type T at rva. The whole
// table must lie within the raw data of the section containing rva.
func readTableRVA[T uint16 | uint32](nfo *PEInfo, rva uint32, count uint32) ([]T, error) {
	off, sect, ok := nfo.resolveRVA(rva)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnmappedRVA, hexField(rva))
	}
	var zero T
	if need := int64(binary.Size(zero)) * int64(count); off+need > sect.rawEnd() {
		return nil, fmt.Errorf("%w: table of %d entries at %s overruns section %q", ErrBadLength, count, hexField(rva), sect.NameString())
	}
	return readStructArray[T](nfo.r, off, int(count))
}

// classifyExport reports whether target is data, and whether it must not be
// reported at all because it lies in the export directory's own section past
// the directory's declared end.
func (nfo *PEInfo) classifyExport(dir exportDirectory, target uint32) (isData, suppress bool) {
	sect := nfo.FindSection(target)
	if sect == nil {
		return true, false
	}
	if sect == dir.section && uint64(target) >= uint64(dir.rva)+uint64(dir.size) {
		return !sect.IsCode(), true
	}
	return !sect.IsCode(), false
}

func (dir exportDirectory) containsForwarder(target uint32) bool {
	return target >= dir.rva && uint64(target) < uint64(dir.rva)+uint64(dir.size)
}

func (nfo *PEInfo) walkExportDirectory(dir exportDirectory, visit ExportVisitor) error {
	ed, err := nfo.readExportDirectory(dir)
	if err != nil {
		nfo.log.WithError(err).Debug("export directory unreadable")
		return nil
	}

	module, err := nfo.readStringRVA(ed.Name)
	if err != nil {
		nfo.log.WithError(err).Debug("export directory has unreadable module name")
	}
	log := nfo.log.WithField("module", module)

	var eat []uint32
	if ed.NumberOfFunctions != 0 {
		if eat, err = readTableRVA[uint32](nfo, ed.AddressOfFunctions, ed.NumberOfFunctions); err != nil {
			log.WithError(err).Debug("export address table unreadable")
		}
	}

	if ed.NumberOfNames == 0 {
		for i, target := range eat {
			isData, _ := nfo.classifyExport(dir, target)
			e := Export{
				Module:  module,
				Ordinal: uint32(i) + ed.Base,
				RVA:     target,
				IsData:  isData,
			}
			if err := visit(e); err != nil {
				return err
			}
		}
		return nil
	}

	ent, err := readTableRVA[uint32](nfo, ed.AddressOfNames, ed.NumberOfNames)
	if err != nil {
		log.WithError(err).Debug("export name table unreadable")
		return nil
	}
	eot, err := readTableRVA[uint16](nfo, ed.AddressOfNameOrdinals, ed.NumberOfNames)
	if err != nil {
		log.WithError(err).Debug("export ordinal table unreadable")
		eot = nil
	}

	for i, nameRVA := range ent {
		name, err := nfo.readStringRVA(nameRVA)
		if err != nil {
			log.WithError(err).Debug("skipping export with unreadable name")
			continue
		}

		e := Export{Module: module, Name: name, IsData: true}
		if eot != nil && uint32(eot[i]) < ed.NumberOfFunctions && int(eot[i]) < len(eat) {
			e.Ordinal = uint32(eot[i]) + ed.Base
			e.RVA = eat[eot[i]]

			var suppress bool
			e.IsData, suppress = nfo.classifyExport(dir, e.RVA)
			if dir.containsForwarder(e.RVA) {
				if e.Forwarder, err = nfo.readStringRVA(e.RVA); err != nil {
					log.WithError(err).WithField("export", name).Debug("forwarder string unreadable")
				}
			} else if suppress {
				log.WithFields(logrus.Fields{"export": name, "rva": hexField(e.RVA)}).Debug("export target past the declared directory extent")
				continue
			}
		}

		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}
