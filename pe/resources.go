// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf16"

	"github.com/sirupsen/logrus"
)

// IMAGE_RESOURCE_DIRECTORY is the header of one directory table in the
// resource tree. It is followed by NumberOfNamedEntries named entries and then
// NumberOfIdEntries ID entries.
type IMAGE_RESOURCE_DIRECTORY struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIdEntries    uint16
}

// IMAGE_RESOURCE_DIRECTORY_ENTRY is a single entry of a directory table.
type IMAGE_RESOURCE_DIRECTORY_ENTRY struct {
	Name         uint32
	OffsetToData uint32
}

// IMAGE_RESOURCE_DATA_ENTRY describes the payload of a leaf.
type IMAGE_RESOURCE_DATA_ENTRY struct {
	OffsetToData uint32 // an RVA, unlike the offsets within the tree
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

const (
	sizeIMAGE_RESOURCE_DIRECTORY       = 16
	sizeIMAGE_RESOURCE_DIRECTORY_ENTRY = 8
	sizeIMAGE_RESOURCE_DATA_ENTRY      = 16

	resourceHighBit  = 0x80000000
	maxResourceDepth = 8
)

// Levels of a conventional resource tree.
const (
	ResourceLevelType = iota
	ResourceLevelName
	ResourceLevelLanguage
)

// ResourceNode is an entry of the resource tree. Parent refers to the node of
// the enclosing directory and is nil at the top level. Nodes are only valid
// for the duration of the walk that produced them; visitors that need them
// afterwards must copy what they need.
type ResourceNode struct {
	Parent *ResourceNode
	Level  int
	Named  bool
	Name   string // set when Named
	ID     uint32 // set when !Named
}

// TypeNode returns the top-level ancestor of n, which names the resource type.
func (n *ResourceNode) TypeNode() *ResourceNode {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// TypeName returns the well-known type name of a top-level ID node, or the
// empty string for any other node.
func (n *ResourceNode) TypeName() string {
	if n.Level != ResourceLevelType || n.Named {
		return ""
	}
	if name, ok := resourceTypeNames[n.ID]; ok {
		return name
	}
	return ""
}

func (n *ResourceNode) String() string {
	if n.Named {
		return strconv.Quote(n.Name)
	}
	if name := n.TypeName(); name != "" {
		return name
	}
	return "#" + strconv.FormatUint(uint64(n.ID), 10)
}

// ResourceData locates the payload of a resource leaf.
type ResourceData struct {
	RVA      uint32
	Offset   int64 // file offset of the payload
	Size     uint32
	CodePage uint32
}

// ResourceGroupVisitor is called for every entry that refers to a nested
// directory, before that directory is walked. It returns nil to descend,
// SkipDir to leave the directory out, StopAfter to walk the directory and then
// stop, SkipAll to stop immediately, or any other error to abort.
type ResourceGroupVisitor func(node *ResourceNode) error

// ResourceLeafVisitor is called for every entry that refers to resource data.
// It returns nil to continue, SkipDir to skip the remaining entries of the
// enclosing directory, SkipAll to stop, or any other error to abort.
type ResourceLeafVisitor func(nfo *PEInfo, node *ResourceNode, data ResourceData) error

type resourceWalker struct {
	nfo   *PEInfo
	base  int64 // file offset of the root directory
	end   int64 // end of the file-backed resource section
	group ResourceGroupVisitor
	leaf  ResourceLeafVisitor
	seen  map[uint32]bool // directory offsets already walked
	log   logrus.FieldLogger
}

// Resources walks the resource tree depth first, in directory order: named
// entries before ID entries at each level. Each directory is walked at most
// once, however many entries refer to it. Either visitor may be nil.
func (nfo *PEInfo) Resources(group ResourceGroupVisitor, leaf ResourceLeafVisitor) error {
	if nfo.OptionalHeader() == nil {
		return fmt.Errorf("listing resources: %w", StatusWrongImage)
	}

	dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_RESOURCE)
	if err != nil {
		return nil
	}
	off, sect, ok := nfo.resolveRVA(dde.VirtualAddress)
	if !ok {
		nfo.log.WithField("rva", hexField(dde.VirtualAddress)).Warn("resource directory is not backed by any section")
		return nil
	}

	w := &resourceWalker{
		nfo:   nfo,
		base:  off,
		end:   sect.rawEnd(),
		group: group,
		leaf:  leaf,
		seen:  make(map[uint32]bool),
		log:   nfo.log.WithField("section", sect.NameString()),
	}
	if err := w.walkDir(0, nil, 0); err != nil && err != SkipAll {
		return err
	}
	return nil
}

// within reports whether size bytes at tree offset off lie inside the section.
func (w *resourceWalker) within(off uint32, size int64) bool {
	return w.base+int64(off)+size <= w.end
}

func (w *resourceWalker) walkDir(off uint32, parent *ResourceNode, level int) error {
	w.seen[off] = true
	if !w.within(off, sizeIMAGE_RESOURCE_DIRECTORY) {
		w.log.WithField("offset", hexField(off)).Debug("resource directory outside section")
		return nil
	}
	hdr, err := readStruct[IMAGE_RESOURCE_DIRECTORY](w.nfo.r, w.base+int64(off))
	if err != nil {
		w.log.WithError(err).Debug("resource directory unreadable")
		return nil
	}

	count := int(hdr.NumberOfNamedEntries) + int(hdr.NumberOfIdEntries)
	entriesOff := off + sizeIMAGE_RESOURCE_DIRECTORY
	if !w.within(entriesOff, int64(count)*sizeIMAGE_RESOURCE_DIRECTORY_ENTRY) {
		w.log.WithFields(logrus.Fields{"offset": hexField(off), "entries": count}).Debug("resource directory entries overrun section")
		return nil
	}
	entries, err := readStructArray[IMAGE_RESOURCE_DIRECTORY_ENTRY](w.nfo.r, w.base+int64(entriesOff), count)
	if err != nil {
		w.log.WithError(err).Debug("resource directory entries unreadable")
		return nil
	}

	for _, entry := range entries {
		node := &ResourceNode{Parent: parent, Level: level}
		if entry.Name&resourceHighBit != 0 {
			name, err := w.readName(entry.Name &^ resourceHighBit)
			if err != nil {
				w.log.WithError(err).Debug("skipping resource entry with unreadable name")
				continue
			}
			node.Named = true
			node.Name = name
		} else {
			node.ID = entry.Name
		}

		if entry.OffsetToData&resourceHighBit != 0 {
			err = w.enter(node, entry.OffsetToData&^resourceHighBit, level)
		} else {
			err = w.emit(node, entry.OffsetToData)
		}
		if err == SkipDir {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// enter calls the group visitor for node and then walks the directory at off.
func (w *resourceWalker) enter(node *ResourceNode, off uint32, level int) error {
	if level+1 >= maxResourceDepth || w.seen[off] {
		w.log.WithFields(logrus.Fields{"offset": hexField(off), "level": level + 1}).Warn("resource directory too deep or already walked")
		return nil
	}

	var stopAfter bool
	if w.group != nil {
		switch err := w.group(node); err {
		case nil:
		case SkipDir:
			return nil
		case StopAfter:
			stopAfter = true
		default:
			return err
		}
	}

	if err := w.walkDir(off, node, level+1); err != nil {
		return err
	}
	if stopAfter {
		return SkipAll
	}
	return nil
}

func (w *resourceWalker) emit(node *ResourceNode, off uint32) error {
	if !w.within(off, sizeIMAGE_RESOURCE_DATA_ENTRY) {
		w.log.WithField("offset", hexField(off)).Debug("resource data entry outside section")
		return nil
	}
	de, err := readStruct[IMAGE_RESOURCE_DATA_ENTRY](w.nfo.r, w.base+int64(off))
	if err != nil {
		w.log.WithError(err).Debug("resource data entry unreadable")
		return nil
	}

	pos, _, ok := w.nfo.resolveRVA(de.OffsetToData)
	if !ok {
		w.log.WithFields(logrus.Fields{"node": node.String(), "rva": hexField(de.OffsetToData)}).Debug("resource data is not backed by any section")
		return nil
	}
	if w.leaf == nil {
		return nil
	}
	return w.leaf(w.nfo, node, ResourceData{
		RVA:      de.OffsetToData,
		Offset:   pos,
		Size:     de.Size,
		CodePage: de.CodePage,
	})
}

// readName reads a length-prefixed UTF-16 name at tree offset off.
func (w *resourceWalker) readName(off uint32) (string, error) {
	var lenBuf [2]byte
	if !w.within(off, int64(len(lenBuf))) {
		return "", fmt.Errorf("%w: resource name at %s outside section", ErrBadLength, hexField(off))
	}
	if err := w.nfo.r.readAt(lenBuf[:], w.base+int64(off)); err != nil {
		return "", err
	}
	n := int64(binary.LittleEndian.Uint16(lenBuf[:]))
	if !w.within(off+2, n*2) {
		return "", fmt.Errorf("%w: resource name at %s overruns section", ErrBadLength, hexField(off))
	}

	raw := make([]byte, n*2)
	if err := w.nfo.r.readAt(raw, w.base+int64(off)+2); err != nil {
		return "", err
	}

	u := make([]uint16, n)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(u)), nil
}

// ReadResourceData returns the payload described by d.
func (nfo *PEInfo) ReadResourceData(d ResourceData) ([]byte, error) {
	if d.Size > maxTableSize {
		return nil, fmt.Errorf("%w: resource of %d bytes", StatusOutOfMemory, d.Size)
	}
	buf := make([]byte, d.Size)
	if err := nfo.r.readAt(buf, d.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}
