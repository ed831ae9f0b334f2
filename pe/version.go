// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"unicode/utf16"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

var (
	errFixedFileInfoTooShort = errors.New("buffer smaller than VS_FIXEDFILEINFO")
	errFixedFileInfoBadSig   = errors.New("bad VS_FIXEDFILEINFO signature")

	ErrNotVersionInfo       = errors.New("not a VS_VERSION_INFO block")
	ErrVersionInfoTruncated = errors.New("truncated version info record")
)

const (
	vsFixedFileInfoSignature = 0xFEEF04BD
	sizeVS_FIXEDFILEINFO     = 52
	sizeVersionNodeHeader    = 6
	maxVersionDepth          = 8

	keyVersionInfo    = "VS_VERSION_INFO"
	keyStringFileInfo = "StringFileInfo"
	keyVarFileInfo    = "VarFileInfo"
	keyTranslation    = "Translation"
)

type VersionNumber struct {
	Major uint16
	Minor uint16
	Patch uint16
	Build uint16
}

func (vn *VersionNumber) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", vn.Major, vn.Minor, vn.Patch, vn.Build)
}

func versionNumber(ms, ls uint32) VersionNumber {
	return VersionNumber{
		Major: uint16(ms >> 16),
		Minor: uint16(ms & 0xFFFF),
		Patch: uint16(ls >> 16),
		Build: uint16(ls & 0xFFFF),
	}
}

// VS_FIXEDFILEINFO is the language-independent part of a version resource.
type VS_FIXEDFILEINFO struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// LangAndCodePage identifies one translation of the version strings.
type LangAndCodePage struct {
	Language uint16
	CodePage uint16
}

// StringEntry is one key/value pair of a string table.
type StringEntry struct {
	Key   string
	Value string
}

// StringTable holds the version strings of one translation, in file order.
type StringTable struct {
	LangAndCodePage
	Key     string // eight hex digits: language, then code page
	Entries []StringEntry
}

// Lookup returns the value stored under key.
func (st *StringTable) Lookup(key string) (string, bool) {
	i := slices.IndexFunc(st.Entries, func(e StringEntry) bool { return e.Key == key })
	if i < 0 {
		return "", false
	}
	return st.Entries[i].Value, true
}

// VersionInfo is a decoded VS_VERSION_INFO resource.
type VersionInfo struct {
	Fixed        VS_FIXEDFILEINFO
	StringTables []StringTable
	Translations []LangAndCodePage
}

const (
	enUS        = 0x0409
	langNeutral = 0
)

// versionNode is one self-describing record of a version resource.
type versionNode struct {
	Length      uint16
	ValueLength uint16 // in words when Type is 1, otherwise in bytes
	Type        uint16 // 1 for text, 0 for binary
	Key         string
	Value       []byte
	Children    []*versionNode
}

func alignUp[V constraints.Integer](v V, powerOfTwo V) V {
	if v < 0 || powerOfTwo < 0 || bits.OnesCount(uint(powerOfTwo)) != 1 {
		panic("invalid arguments to alignUp")
	}
	return v + ((-v) & (powerOfTwo - 1))
}

// decodeUTF16Z decodes a NUL-terminated UTF-16LE string starting at b[pos].
// It returns the string and the position just past the terminator.
func decodeUTF16Z(b []byte, pos int) (string, int, error) {
	var u []uint16
	for ; pos+2 <= len(b); pos += 2 {
		c := binary.LittleEndian.Uint16(b[pos:])
		if c == 0 {
			return string(utf16.Decode(u)), pos + 2, nil
		}
		u = append(u, c)
	}
	return "", 0, fmt.Errorf("%w: unterminated key", ErrVersionInfoTruncated)
}

// parseVersionHeader decodes the header and key of the record at the start of
// b. It returns the record clipped to its declared length and the aligned
// position of its value.
func parseVersionHeader(b []byte) (*versionNode, []byte, int, error) {
	if len(b) < sizeVersionNodeHeader {
		return nil, nil, 0, fmt.Errorf("%w: %d bytes left", ErrVersionInfoTruncated, len(b))
	}
	n := &versionNode{
		Length:      binary.LittleEndian.Uint16(b[0:]),
		ValueLength: binary.LittleEndian.Uint16(b[2:]),
		Type:        binary.LittleEndian.Uint16(b[4:]),
	}
	if n.Length < sizeVersionNodeHeader || int(n.Length) > len(b) {
		return nil, nil, 0, fmt.Errorf("%w: record length %d with %d bytes left", ErrVersionInfoTruncated, n.Length, len(b))
	}
	b = b[:n.Length]

	key, pos, err := decodeUTF16Z(b, sizeVersionNodeHeader)
	if err != nil {
		return nil, nil, 0, err
	}
	n.Key = key
	return n, b, alignUp(pos, 4), nil
}

// parseVersionNode decodes the record at the start of b and, recursively, its
// children.
func parseVersionNode(b []byte, depth int) (*versionNode, error) {
	if depth >= maxVersionDepth {
		return nil, fmt.Errorf("%w: nested too deeply", ErrVersionInfoTruncated)
	}
	n, b, pos, err := parseVersionHeader(b)
	if err != nil {
		return nil, err
	}

	valueLen := int(n.ValueLength)
	if n.Type == 1 {
		valueLen *= 2
	}
	if pos > len(b) {
		pos = len(b)
	}
	if valueLen > len(b)-pos {
		valueLen = len(b) - pos
	}
	n.Value = b[pos : pos+valueLen]

	n.Children = parseVersionChildren(b, alignUp(pos+valueLen, 4), depth+1)
	return n, nil
}

// parseVersionChildren decodes consecutive child records in b starting at
// pos. A malformed child ends the list; the children before it are kept.
func parseVersionChildren(b []byte, pos int, depth int) []*versionNode {
	var children []*versionNode
	for pos+sizeVersionNodeHeader <= len(b) {
		child, err := parseVersionNode(b[pos:], depth)
		if err != nil {
			break
		}
		children = append(children, child)
		pos = alignUp(pos+int(child.Length), 4)
	}
	return children
}

// findFixedFileInfo scans b from pos, on 4-byte steps, for the
// VS_FIXEDFILEINFO signature.
func findFixedFileInfo(b []byte, pos int) (int, error) {
	for ; pos+sizeVS_FIXEDFILEINFO <= len(b); pos += 4 {
		if binary.LittleEndian.Uint32(b[pos:]) == vsFixedFileInfoSignature {
			return pos, nil
		}
	}
	return 0, errFixedFileInfoBadSig
}

// ParseVersionInfo decodes a VS_VERSION_INFO block, as found in an RT_VERSION
// resource. Records are aligned on 4-byte boundaries relative to the start of
// b. A malformed string or translation table is dropped without failing the
// whole block.
func ParseVersionInfo(b []byte) (*VersionInfo, error) {
	root, b, pos, err := parseVersionHeader(b)
	if err != nil {
		return nil, err
	}
	if root.Key != keyVersionInfo {
		return nil, fmt.Errorf("%w: key %q", ErrNotVersionInfo, root.Key)
	}

	vi := new(VersionInfo)
	childPos := pos
	if root.ValueLength != 0 {
		if root.ValueLength < sizeVS_FIXEDFILEINFO {
			return nil, errFixedFileInfoTooShort
		}
		fixedPos, err := findFixedFileInfo(b, pos)
		if err != nil {
			return nil, err
		}
		if err := binary.Read(bytes.NewReader(b[fixedPos:fixedPos+sizeVS_FIXEDFILEINFO]), binary.LittleEndian, &vi.Fixed); err != nil {
			return nil, err
		}
		// Children follow the declared value, which may be padded.
		childPos = max(pos+int(root.ValueLength), fixedPos+sizeVS_FIXEDFILEINFO)
	}
	childPos = min(alignUp(childPos, 4), len(b))

	for _, child := range parseVersionChildren(b, childPos, 1) {
		switch child.Key {
		case keyStringFileInfo:
			for _, table := range child.Children {
				vi.StringTables = append(vi.StringTables, newStringTable(table))
			}
		case keyVarFileInfo:
			for _, v := range child.Children {
				if v.Key != keyTranslation {
					continue
				}
				for i := 0; i+4 <= len(v.Value); i += 4 {
					vi.Translations = append(vi.Translations, LangAndCodePage{
						Language: binary.LittleEndian.Uint16(v.Value[i:]),
						CodePage: binary.LittleEndian.Uint16(v.Value[i+2:]),
					})
				}
			}
		}
	}

	return vi, nil
}

func newStringTable(n *versionNode) StringTable {
	st := StringTable{Key: n.Key}
	if lcp, err := strconv.ParseUint(n.Key, 16, 32); err == nil && len(n.Key) == 8 {
		st.Language = uint16(lcp >> 16)
		st.CodePage = uint16(lcp)
	}
	for _, s := range n.Children {
		st.Entries = append(st.Entries, StringEntry{Key: s.Key, Value: versionString(s.Value)})
	}
	return st
}

// versionString decodes a UTF-16LE value, dropping the terminator and any
// padding after it.
func versionString(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+2 <= len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

// VersionNumber returns the binary file version.
func (vi *VersionInfo) VersionNumber() VersionNumber {
	return versionNumber(vi.Fixed.FileVersionMS, vi.Fixed.FileVersionLS)
}

// ProductVersionNumber returns the binary product version.
func (vi *VersionInfo) ProductVersionNumber() VersionNumber {
	return versionNumber(vi.Fixed.ProductVersionMS, vi.Fixed.ProductVersionLS)
}

// translationIDs returns the translations to try, in order of preference.
// A zero code page matches any code page.
func (vi *VersionInfo) translationIDs() []LangAndCodePage {
	ids := []LangAndCodePage{
		{Language: enUS},
		{Language: langNeutral},
	}
	return append(ids, vi.Translations...)
}

// Field returns the version string stored under key, preferring US English,
// then language-neutral strings, then the translations the resource declares,
// then any table at all.
func (vi *VersionInfo) Field(key string) (string, error) {
	for _, lcp := range vi.translationIDs() {
		for i := range vi.StringTables {
			st := &vi.StringTables[i]
			if st.Language != lcp.Language || (lcp.CodePage != 0 && st.CodePage != lcp.CodePage) {
				continue
			}
			if value, ok := st.Lookup(key); ok {
				return value, nil
			}
		}
	}
	for i := range vi.StringTables {
		if value, ok := vi.StringTables[i].Lookup(key); ok {
			return value, nil
		}
	}

	return "", ErrNotPresent
}

func (vi *VersionInfo) CompanyName() (string, error) {
	return vi.Field("CompanyName")
}

// VersionInfo locates the first RT_VERSION resource of nfo and decodes it. It
// returns ErrNotPresent when the image has none.
func (nfo *PEInfo) VersionInfo() (*VersionInfo, error) {
	var data []byte
	var readErr error
	err := nfo.Resources(
		func(node *ResourceNode) error {
			if node.Level == ResourceLevelType && (node.Named || node.ID != RT_VERSION) {
				return SkipDir
			}
			return nil
		},
		func(nfo *PEInfo, node *ResourceNode, rd ResourceData) error {
			data, readErr = nfo.ReadResourceData(rd)
			return SkipAll
		},
	)
	if err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if data == nil {
		return nil, ErrNotPresent
	}
	return ParseVersionInfo(data)
}

// NewVersionInfo reads the version resource of the PE binary at filepath.
func NewVersionInfo(filepath string) (*VersionInfo, error) {
	nfo, err := NewPEFromFileName(filepath)
	if err != nil {
		return nil, err
	}
	defer nfo.Close()

	return nfo.VersionInfo()
}
