// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WIN_CERT_REVISION is an enumeration from the Windows SDK.
type WIN_CERT_REVISION uint16

const (
	WIN_CERT_REVISION_1_0 WIN_CERT_REVISION = 0x0100
	WIN_CERT_REVISION_2_0 WIN_CERT_REVISION = 0x0200
)

// WIN_CERT_TYPE is an enumeration from the Windows SDK.
type WIN_CERT_TYPE uint16

const (
	WIN_CERT_TYPE_X509             WIN_CERT_TYPE = 0x0001
	WIN_CERT_TYPE_PKCS_SIGNED_DATA WIN_CERT_TYPE = 0x0002
	WIN_CERT_TYPE_TS_STACK_SIGNED  WIN_CERT_TYPE = 0x0004
)

type _WIN_CERTIFICATE_HEADER struct {
	Length          uint32
	Revision        WIN_CERT_REVISION
	CertificateType WIN_CERT_TYPE
}

const sizeWIN_CERTIFICATE_HEADER = 8

// AuthenticodeCert represents an authenticode signature that has been extracted
// from a signed PE binary but not parsed.
type AuthenticodeCert struct {
	header _WIN_CERTIFICATE_HEADER
	data   []byte
}

// Revision returns the revision of ac.
func (ac *AuthenticodeCert) Revision() WIN_CERT_REVISION {
	return ac.header.Revision
}

// Type returns the type of ac.
func (ac *AuthenticodeCert) Type() WIN_CERT_TYPE {
	return ac.header.CertificateType
}

// Data returns the raw bytes of ac's cert.
func (ac *AuthenticodeCert) Data() []byte {
	return ac.data
}

// AuthenticodeCerts returns the attribute certificates appended to the image.
// Unlike other data directory entries, the security entry holds a file offset
// rather than an RVA. It returns ErrNotPresent for an unsigned image.
func (nfo *PEInfo) AuthenticodeCerts() ([]AuthenticodeCert, error) {
	if nfo.OptionalHeader() == nil {
		return nil, fmt.Errorf("reading certificates: %w", StatusWrongImage)
	}
	dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_SECURITY)
	if err != nil {
		return nil, ErrNotPresent
	}
	if dde.Size > maxTableSize {
		return nil, fmt.Errorf("%w: certificate table of %d bytes", StatusOutOfMemory, dde.Size)
	}

	var result []AuthenticodeCert
	sr := io.NewSectionReader(nfo, int64(dde.VirtualAddress), int64(dde.Size))
	var curOffset int64

	for curOffset+sizeWIN_CERTIFICATE_HEADER <= int64(dde.Size) {
		if _, err := sr.Seek(curOffset, io.SeekStart); err != nil {
			return nil, err
		}

		var entry AuthenticodeCert
		if err := binary.Read(sr, binary.LittleEndian, &entry.header); err != nil {
			return nil, err
		}
		if entry.header.Length < sizeWIN_CERTIFICATE_HEADER || int64(entry.header.Length) > int64(dde.Size)-curOffset {
			return nil, fmt.Errorf("%w: certificate of %d bytes at 0x%X", ErrBadLength, entry.header.Length, int64(dde.VirtualAddress)+curOffset)
		}

		entry.data = make([]byte, entry.header.Length-sizeWIN_CERTIFICATE_HEADER)
		if _, err := io.ReadFull(sr, entry.data); err != nil {
			return nil, err
		}
		result = append(result, entry)

		curOffset = alignUp(curOffset+int64(entry.header.Length), 8)
	}

	return result, nil
}
