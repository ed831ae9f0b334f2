// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

const unknownName = "(unknown)"

// ArchName returns the short architecture name used for machine, such as
// "x86" or "x86_64".
func ArchName(machine uint16) string {
	switch machine {
	case 0x014C:
		return "x86"
	case 0x01C0, 0x01C2, 0x01C4:
		return "arm"
	case 0x0200:
		return "ia64"
	case 0x0268:
		return "m68k"
	case 0x0284:
		return "alpha"
	case 0x0EBC:
		return "EFI Byte Code"
	case 0x8664:
		return "x86_64"
	case 0xAA64:
		return "arm64"
	default:
		return unknownName
	}
}

var machineNames = map[uint16]string{
	0x014C: "Intel 386 (x86)",
	0x0162: "MIPS R3000",
	0x0168: "MIPS R10000",
	0x0169: "MIPS little endian WCI v2",
	0x0183: "old Alpha AXP",
	0x0184: "Alpha AXP",
	0x01A2: "Hitachi SH3",
	0x01A3: "Hitachi SH3 DSP",
	0x01A6: "Hitachi SH4",
	0x01A8: "Hitachi SH5",
	0x01C0: "ARM little endian",
	0x01C2: "Thumb",
	0x01C4: "ARMv7",
	0x01D3: "Matsushita AM33",
	0x01F0: "PowerPC little endian",
	0x01F1: "PowerPC with floating point support",
	0x0200: "Intel IA64",
	0x0266: "MIPS16",
	0x0268: "Motorola 68000 series",
	0x0284: "Alpha AXP 64-bit",
	0x0366: "MIPS with FPU",
	0x0466: "MIPS16 with FPU",
	0x0EBC: "EFI Byte Code",
	0x8664: "AMD AMD64 (x64)",
	0x9041: "Mitsubishi M32R little endian",
	0xAA64: "ARM64 little endian",
	0xC0EE: "clr pure MSIL",
}

// MachineName returns the descriptive name of a COFF machine type.
func MachineName(machine uint16) string {
	if name, ok := machineNames[machine]; ok {
		return name
	}
	return unknownName
}

// MachineBits returns the native word size of machine in bits, or 0 when it
// is not known.
func MachineBits(machine uint16) int {
	switch machine {
	case 0x014C, 0x0162, 0x0166, 0x0168, 0x0169, 0x0183, 0x0184, 0x01A2, 0x01A3, 0x01A6, 0x01C0, 0x01C2, 0x01C4, 0x01D3, 0x01F0, 0x01F1, 0x0266, 0x0268, 0x0366, 0x0466, 0x9041:
		return 32
	case 0x01A8, 0x0200, 0x0284, 0x8664, 0xAA64:
		return 64
	default:
		return 0
	}
}

var subsystemNames = map[uint16]string{
	0:  "generic",
	1:  "native",
	2:  "Windows GUI",
	3:  "Windows console",
	5:  "OS/2 console",
	7:  "POSIX console",
	9:  "Windows CE GUI",
	10: "EFI",
	11: "EFI/boot",
	12: "EFI/runtime",
	13: "EFI ROM image",
	14: "Xbox",
	16: "boot application",
}

// SubsystemName returns the descriptive name of an optional header subsystem.
func SubsystemName(subsystem uint16) string {
	if name, ok := subsystemNames[subsystem]; ok {
		return name
	}
	return unknownName
}

// Well-known resource types. These are only meaningful as IDs at the top level
// of the resource tree.
const (
	RT_CURSOR       = 1
	RT_BITMAP       = 2
	RT_ICON         = 3
	RT_MENU         = 4
	RT_DIALOG       = 5
	RT_STRING       = 6
	RT_FONTDIR      = 7
	RT_FONT         = 8
	RT_ACCELERATOR  = 9
	RT_RCDATA       = 10
	RT_MESSAGETABLE = 11
	RT_GROUP_CURSOR = 12
	RT_GROUP_ICON   = 14
	RT_VERSION      = 16
	RT_DLGINCLUDE   = 17
	RT_PLUGPLAY     = 19
	RT_VXD          = 20
	RT_ANICURSOR    = 21
	RT_ANIICON      = 22
	RT_HTML         = 23
	RT_MANIFEST     = 24
)

var resourceTypeNames = map[uint32]string{
	RT_CURSOR:       "cursor",
	RT_BITMAP:       "bitmap",
	RT_ICON:         "icon",
	RT_MENU:         "menu",
	RT_DIALOG:       "dialog",
	RT_STRING:       "string table",
	RT_FONTDIR:      "font directory",
	RT_FONT:         "font",
	RT_ACCELERATOR:  "accelerator table",
	RT_RCDATA:       "raw data",
	RT_MESSAGETABLE: "message table",
	RT_GROUP_CURSOR: "group cursor",
	RT_GROUP_ICON:   "group icon",
	RT_VERSION:      "version",
	RT_DLGINCLUDE:   "dialog include",
	RT_PLUGPLAY:     "plug and play",
	RT_VXD:          "VXD",
	RT_ANICURSOR:    "animated cursor",
	RT_ANIICON:      "animated icon",
	RT_HTML:         "HTML",
	RT_MANIFEST:     "manifest",
}

// ResourceTypeName returns the name of a well-known resource type ID.
func ResourceTypeName(id uint32) string {
	if name, ok := resourceTypeNames[id]; ok {
		return name
	}
	return unknownName
}
