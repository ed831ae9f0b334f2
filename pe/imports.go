// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var errUnmappedRVA = errors.New("RVA is not backed by any section")

// IMAGE_IMPORT_DESCRIPTOR is one record of the import directory. A record of
// all zeros terminates the directory.
type IMAGE_IMPORT_DESCRIPTOR struct {
	ImportLookupTable  uint32 // a.k.a. OriginalFirstThunk
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	ImportAddressTable uint32 // a.k.a. FirstThunk
}

const sizeIMAGE_IMPORT_DESCRIPTOR = 20

const (
	imageOrdinalFlag32 = uint64(0x80000000)
	imageOrdinalFlag64 = uint64(0x8000000000000000)
)

// ImportVisitor is called once for every symbol imported by the image.
// Symbols imported by ordinal are reported as "@<ordinal>". Returning SkipAll
// stops the walk without error; any other non-nil error stops the walk and is
// returned from Imports.
type ImportVisitor func(module, symbol string) error

func hexField(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

// readStringRVA reads the NUL-terminated string at rva.
func (nfo *PEInfo) readStringRVA(rva uint32) (string, error) {
	off, _, ok := nfo.resolveRVA(rva)
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnmappedRVA, hexField(rva))
	}
	return nfo.r.readStringAt(&nfo.bufs, off)
}

// Imports walks the import directory of nfo, calling visit for each imported
// symbol in directory order. Descriptors and symbols whose addresses cannot be
// resolved are skipped.
func (nfo *PEInfo) Imports(visit ImportVisitor) error {
	if nfo.OptionalHeader() == nil {
		return fmt.Errorf("listing imports: %w", StatusWrongImage)
	}

	dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_IMPORT)
	if err != nil {
		nfo.noteUnwalkedIdata()
		return nil
	}

	off, sect, ok := nfo.resolveRVA(dde.VirtualAddress)
	if !ok {
		nfo.log.WithField("rva", hexField(dde.VirtualAddress)).Warn("import directory is not backed by any section")
		nfo.noteUnwalkedIdata()
		return nil
	}

	end := sect.rawEnd()
	if dde.Size != 0 && off+int64(dde.Size) < end {
		end = off + int64(dde.Size)
	}

	if err := nfo.walkImportDescriptors(off, end, visit); err != nil && err != SkipAll {
		return err
	}
	return nil
}

// noteUnwalkedIdata records that an image without a usable import directory
// entry carries a section named .idata. Such sections are not walked.
func (nfo *PEInfo) noteUnwalkedIdata() {
	if s := nfo.findSectionByName(".idata"); s != nil {
		nfo.log.WithFields(logrus.Fields{
			"section": s.NameString(),
			"offset":  hexField(s.PointerToRawData),
		}).Warn("import data directory unusable; .idata section not walked")
	}
}

func (nfo *PEInfo) walkImportDescriptors(off, end int64, visit ImportVisitor) error {
	for ; off+sizeIMAGE_IMPORT_DESCRIPTOR <= end; off += sizeIMAGE_IMPORT_DESCRIPTOR {
		desc, err := readStruct[IMAGE_IMPORT_DESCRIPTOR](nfo.r, off)
		if err != nil {
			nfo.log.WithError(err).Debug("import directory truncated")
			return nil
		}
		if *desc == (IMAGE_IMPORT_DESCRIPTOR{}) {
			return nil
		}
		if err := nfo.walkImportDescriptor(desc, visit); err != nil {
			return err
		}
	}
	return nil
}

func (nfo *PEInfo) walkImportDescriptor(desc *IMAGE_IMPORT_DESCRIPTOR, visit ImportVisitor) error {
	module, err := nfo.readStringRVA(desc.Name)
	if err != nil {
		nfo.log.WithError(err).Debug("skipping import descriptor with unreadable module name")
		return nil
	}
	log := nfo.log.WithField("module", module)

	ilt := desc.ImportLookupTable
	if ilt == 0 {
		ilt = desc.ImportAddressTable
	}
	off, sect, ok := nfo.resolveRVA(ilt)
	if !ok {
		log.WithField("rva", hexField(ilt)).Debug("import lookup table is not backed by any section")
		return nil
	}

	width, ordinalFlag := int64(4), imageOrdinalFlag32
	if nfo.Is64Bit() {
		width, ordinalFlag = 8, imageOrdinalFlag64
	}

	var buf [8]byte
	for end := sect.rawEnd(); off+width <= end; off += width {
		if err := nfo.r.readAt(buf[:width], off); err != nil {
			log.WithError(err).Debug("import lookup table truncated")
			return nil
		}

		var entry uint64
		if width == 8 {
			entry = binary.LittleEndian.Uint64(buf[:])
		} else {
			entry = uint64(binary.LittleEndian.Uint32(buf[:]))
		}
		if entry == 0 {
			return nil
		}

		var symbol string
		if entry&ordinalFlag != 0 {
			symbol = fmt.Sprintf("@%d", uint16(entry))
		} else {
			// Skip the two-byte hint that precedes the name.
			nameRVA := uint32(entry&0x7FFFFFFF) + 2
			if symbol, err = nfo.readStringRVA(nameRVA); err != nil {
				log.WithError(err).Debug("skipping import with unreadable name")
				continue
			}
		}

		if err := visit(module, symbol); err != nil {
			return err
		}
	}
	return nil
}

// ImportedModules returns the names of the modules the image imports from,
// in directory order and without duplicates. Names are compared without
// regard to case.
func (nfo *PEInfo) ImportedModules() ([]string, error) {
	var modules []string
	err := nfo.Imports(func(module, _ string) error {
		if slices.IndexFunc(modules, func(m string) bool { return strings.EqualFold(m, module) }) < 0 {
			modules = append(modules, module)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modules, nil
}
