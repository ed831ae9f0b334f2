// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pebuild

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"unicode/utf16"
)

// table accumulates the contents of a section whose first byte lives at rva.
type table struct {
	rva uint32
	buf bytes.Buffer
}

func (t *table) here() uint32 {
	return t.rva + uint32(t.buf.Len())
}

func (t *table) put(v any) {
	binary.Write(&t.buf, binary.LittleEndian, v)
}

func (t *table) cstring(s string) uint32 {
	rva := t.here()
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	return rva
}

func (t *table) align(a int) {
	for t.buf.Len()%a != 0 {
		t.buf.WriteByte(0)
	}
}

// patch32 overwrites the uint32 at the given RVA.
func (t *table) patch32(rva, v uint32) {
	binary.LittleEndian.PutUint32(t.buf.Bytes()[rva-t.rva:], v)
}

// Import lists the symbols imported from one module. A symbol of the form
// "@n" is imported by ordinal n.
type Import struct {
	Module  string
	Symbols []string
}

// BuildImports returns an import directory for a section at rva, along with
// the size of its descriptor table (including the terminating record). Each
// module gets an import lookup table; when noILT is set the lookup table RVA
// is left zero and only the address table is filled in.
func BuildImports(rva uint32, is64 bool, imports []Import, noILT bool) ([]byte, uint32) {
	t := &table{rva: rva}
	descSize := uint32(len(imports)+1) * 20
	t.buf.Write(make([]byte, descSize))

	width := 4
	if is64 {
		width = 8
	}

	type thunks struct{ ilt, iat uint32 }
	tables := make([]thunks, len(imports))
	for i, imp := range imports {
		if !noILT {
			tables[i].ilt = t.here()
			t.buf.Write(make([]byte, (len(imp.Symbols)+1)*width))
		}
		tables[i].iat = t.here()
		t.buf.Write(make([]byte, (len(imp.Symbols)+1)*width))
	}

	for i, imp := range imports {
		nameRVA := t.cstring(imp.Module)
		desc := rva + uint32(i)*20
		t.patch32(desc, tables[i].ilt)
		t.patch32(desc+12, nameRVA)
		t.patch32(desc+16, tables[i].iat)

		for j, sym := range imp.Symbols {
			var entry uint64
			if ord, ok := strings.CutPrefix(sym, "@"); ok {
				n, _ := strconv.ParseUint(ord, 10, 16)
				entry = n | 1<<31
				if is64 {
					entry = n | 1<<63
				}
			} else {
				t.align(2)
				hint := t.here()
				t.put(uint16(j))
				t.cstring(sym)
				entry = uint64(hint)
			}
			for _, base := range []uint32{tables[i].ilt, tables[i].iat} {
				if base == 0 {
					continue
				}
				off := base - rva + uint32(j*width)
				if is64 {
					binary.LittleEndian.PutUint64(t.buf.Bytes()[off:], entry)
				} else {
					binary.LittleEndian.PutUint32(t.buf.Bytes()[off:], uint32(entry))
				}
			}
		}
	}
	return t.buf.Bytes(), descSize
}

// ExportFunc is one slot of the export address table. Its ordinal is the
// directory's base plus its index.
type ExportFunc struct {
	Name      string // empty for an ordinal-only export
	RVA       uint32
	Forwarder string // "module.function"; overrides RVA
}

// BuildExports returns an export directory for a section at rva and the size
// it occupies, which spans every forwarder string. When no function is
// named, the directory declares no names.
func BuildExports(rva uint32, module string, base uint32, funcs []ExportFunc) ([]byte, uint32) {
	t := &table{rva: rva}
	t.buf.Write(make([]byte, 40))

	eat := t.here()
	t.buf.Write(make([]byte, 4*len(funcs)))

	var named []int
	for i, f := range funcs {
		if f.Name != "" {
			named = append(named, i)
		}
	}
	ent := t.here()
	t.buf.Write(make([]byte, 4*len(named)))
	eot := t.here()
	for _, i := range named {
		t.put(uint16(i))
	}
	t.align(4)

	moduleRVA := t.cstring(module)
	for j, i := range named {
		t.patch32(ent+uint32(4*j), t.cstring(funcs[i].Name))
	}
	for i, f := range funcs {
		target := f.RVA
		if f.Forwarder != "" {
			target = t.cstring(f.Forwarder)
		}
		t.patch32(eat+uint32(4*i), target)
	}
	t.align(4)

	t.patch32(rva+12, moduleRVA)
	t.patch32(rva+16, base)
	t.patch32(rva+20, uint32(len(funcs)))
	t.patch32(rva+24, uint32(len(named)))
	t.patch32(rva+28, eat)
	if len(named) != 0 {
		t.patch32(rva+32, ent)
		t.patch32(rva+36, eot)
	}
	return t.buf.Bytes(), uint32(t.buf.Len())
}

// ResourceDir is a directory table of a resource tree.
type ResourceDir struct {
	Entries []ResourceEntry
}

// ResourceEntry is named when Name is set and identified by ID otherwise.
// Exactly one of Dir and Data is meaningful: a nil Dir makes a leaf.
type ResourceEntry struct {
	Name     string
	ID       uint32
	Dir      *ResourceDir
	Data     []byte
	CodePage uint32
}

// ordered returns the entries of d with named entries first, as the format
// requires.
func (d *ResourceDir) ordered() []ResourceEntry {
	var named, ids []ResourceEntry
	for _, e := range d.Entries {
		if e.Name != "" {
			named = append(named, e)
		} else {
			ids = append(ids, e)
		}
	}
	return append(named, ids...)
}

// BuildResources returns a resource section for rva holding root. Directory
// tables come first, breadth first, followed by names, data entries and
// payloads.
func BuildResources(rva uint32, root *ResourceDir) []byte {
	type pending struct {
		dir *ResourceDir
		off uint32
	}

	// Lay out directory tables.
	var dirs []pending
	offsets := map[*ResourceDir]uint32{}
	var size uint32
	queue := []*ResourceDir{root}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		offsets[d] = size
		dirs = append(dirs, pending{d, size})
		size += 16 + 8*uint32(len(d.Entries))
		for _, e := range d.ordered() {
			if e.Dir != nil {
				queue = append(queue, e.Dir)
			}
		}
	}

	t := &table{rva: 0}
	t.buf.Write(make([]byte, size))

	nameOff := map[string]uint32{}
	for _, p := range dirs {
		for _, e := range p.dir.Entries {
			if e.Name == "" {
				continue
			}
			if _, ok := nameOff[e.Name]; ok {
				continue
			}
			t.align(2)
			nameOff[e.Name] = t.here()
			u := utf16.Encode([]rune(e.Name))
			t.put(uint16(len(u)))
			t.put(u)
		}
	}
	t.align(4)

	type leaf struct {
		entryOff uint32
		e        ResourceEntry
	}
	var leaves []leaf
	for _, p := range dirs {
		var numNamed, numIDs uint16
		for i, e := range p.dir.ordered() {
			if e.Name != "" {
				numNamed++
			} else {
				numIDs++
			}
			at := p.off + 16 + uint32(8*i)
			name := e.ID
			if e.Name != "" {
				name = nameOff[e.Name] | 0x80000000
			}
			t.patch32(at, name)
			if e.Dir != nil {
				t.patch32(at+4, offsets[e.Dir]|0x80000000)
			} else {
				leaves = append(leaves, leaf{at + 4, e})
			}
		}
		binary.LittleEndian.PutUint16(t.buf.Bytes()[p.off+12:], numNamed)
		binary.LittleEndian.PutUint16(t.buf.Bytes()[p.off+14:], numIDs)
	}

	dataEntries := make([]uint32, len(leaves))
	for i, l := range leaves {
		dataEntries[i] = t.here()
		t.patch32(l.entryOff, dataEntries[i])
		t.buf.Write(make([]byte, 16))
	}
	for i, l := range leaves {
		t.align(8)
		t.patch32(dataEntries[i], rva+t.here())
		t.patch32(dataEntries[i]+4, uint32(len(l.e.Data)))
		t.patch32(dataEntries[i]+8, l.e.CodePage)
		t.buf.Write(l.e.Data)
	}
	return t.buf.Bytes()
}

// BuildCodeView returns a debug directory with a single CodeView (RSDS) entry,
// for a section at rva whose raw data starts at file offset fileOff. The
// returned size is that of the directory itself.
func BuildCodeView(rva, fileOff uint32, guid [16]byte, age uint32, pdbPath string) ([]byte, uint32) {
	t := &table{rva: rva}
	t.buf.Write(make([]byte, 28))

	rsds := t.here()
	t.buf.WriteString("RSDS")
	t.buf.Write(guid[:])
	t.put(age)
	t.cstring(pdbPath)
	size := t.here() - rsds

	t.patch32(rva+12, 2)
	t.patch32(rva+16, size)
	t.patch32(rva+20, rsds)
	t.patch32(rva+24, fileOff+(rsds-rva))
	return t.buf.Bytes(), 28
}
