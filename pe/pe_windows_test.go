// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/windows"
)

func systemTestImage(t *testing.T) string {
	sysDir, err := windows.GetSystemDirectory()
	if err != nil {
		t.Fatalf("GetSystemDirectory: %v", err)
	}
	return filepath.Join(sysDir, "kernel32.dll")
}

func testSectionsAgainstSystemAPI(t *testing.T, filename string, nfo *PEInfo) {
	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("opening %q: %v", filename, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		t.Fatalf("mapping %q: %v", filename, err)
	}
	defer m.Unmap()
	base := uintptr(unsafe.Pointer(&m[0]))

	nt, err := imageNtHeader(base)
	if err != nil {
		t.Fatalf("imageNtHeader: %v", err)
	}
	if !reflect.DeepEqual(nt.FileHeader, *nfo.FileHeader()) {
		t.Errorf("FileHeader mismatch:\n%+v\nvs\n%+v", nt.FileHeader, *nfo.FileHeader())
	}

	for _, s := range nfo.Sections() {
		if s.SizeOfRawData == 0 {
			continue
		}
		for _, rva := range []uint32{s.VirtualAddress, s.VirtualAddress + s.SizeOfRawData - 1} {
			sys, err := imageRvaToSection(nt, base, rva)
			if err != nil {
				t.Errorf("imageRvaToSection(0x%08X): %v", rva, err)
				continue
			}
			ours := nfo.FindSection(rva)
			if ours == nil || ours.SectionHeader32 != sys.SectionHeader32 {
				t.Errorf("FindSection(0x%08X): got %+v, system found %q", rva, ours, sys.NameString())
			}
		}
	}

	dde, err := nfo.DataDirectoryEntry(IMAGE_DIRECTORY_ENTRY_DEBUG)
	if err != nil {
		return
	}
	var size uint32
	addr, err := imageDirectoryEntryToDataEx(base, 0, uint16(IMAGE_DIRECTORY_ENTRY_DEBUG), &size, nil)
	if err != nil {
		t.Fatalf("imageDirectoryEntryToDataEx: %v", err)
	}
	off, _, ok := nfo.resolveRVA(dde.VirtualAddress)
	if !ok || int64(addr-base) != off {
		t.Errorf("debug directory at file offset 0x%X, system says 0x%X", off, addr-base)
	}
}

func testAuthenticodeAgainstSystemAPI(t *testing.T, filename string, certs []AuthenticodeCert) {
	syscerts, err := getCertDataViaSystem(filename)
	if err != nil {
		t.Fatalf("getCertDataViaSystem(%q) error %v", filename, err)
	}

	if len(certs) != len(syscerts) {
		t.Errorf("len mismatch: got %d certs, system found %d", len(certs), len(syscerts))
	}

	var testCerts [2]*AuthenticodeCert
	for i, slc := range [][]AuthenticodeCert{certs, syscerts} {
		for j, cert := range slc {
			if cert.Revision() != WIN_CERT_REVISION_2_0 || cert.Type() != WIN_CERT_TYPE_PKCS_SIGNED_DATA {
				continue
			}
			testCerts[i] = &slc[j]
			break
		}
	}

	if !reflect.DeepEqual(testCerts[0], testCerts[1]) {
		t.Errorf("DeepEqual failed")
	}
}

func testDebugInfoAgainstSystemAPI(t *testing.T, filename string, cv *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED) {
	syscv, err := getCodeViewInfoViaSystem(filename)
	if err != nil {
		var dllerr *windows.DLLError
		if errors.As(err, &dllerr) {
			t.Skipf("Test requires dbghelp.dll version 6.6 or later")
		}
		t.Fatalf("getCodeViewInfoViaSystem(%q) error %v", filename, err)
	}

	if cv.GUID != syscv.GUID || cv.Age != syscv.Age || filepath.Base(cv.PDBPath) != syscv.PDBPath {
		t.Errorf("CodeView mismatch: got %+v, system found %+v", *cv, *syscv)
	}
}

func getCodeViewInfoViaSystem(filename string) (result *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED, err error) {
	filename16, err := windows.UTF16PtrFromString(filename)
	if err != nil {
		return nil, err
	}

	info := _SYMSRV_INDEX_INFO{
		SizeOfStruct: uint32(unsafe.Sizeof(_SYMSRV_INDEX_INFO{})),
	}
	if err := symSrvGetFileIndexInfoW(filename16, &info, 0); err != nil {
		return nil, err
	}

	result = &IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED{
		GUID:    info.GUID,
		Age:     info.Age,
		PDBPath: windows.UTF16ToString(info.PDBFile[:]),
	}
	return result, nil
}

func getCertDataViaSystem(filename string) (result []AuthenticodeCert, err error) {
	h, err := windows.Open(filename, windows.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	var certCount uint32
	if err := imageEnumerateCertificates(h, _CERT_SECTION_TYPE_ANY, &certCount, nil, 0); err != nil {
		return nil, err
	}
	if certCount == 0 {
		return nil, nil
	}

	result = make([]AuthenticodeCert, 0, certCount)
	for i := uint32(0); i < certCount; i++ {
		reqd := uint32(0)
		if err := imageGetCertificateData(h, i, nil, &reqd); err != windows.ERROR_INSUFFICIENT_BUFFER {
			return nil, err
		}

		buf := make([]byte, reqd)
		if err := imageGetCertificateData(h, i, unsafe.SliceData(buf), &reqd); err != nil {
			return nil, err
		}

		var entry AuthenticodeCert
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &entry.header); err != nil {
			return nil, err
		}

		entry.data = buf[sizeWIN_CERTIFICATE_HEADER:entry.header.Length]
		result = append(result, entry)
	}

	return result, nil
}

func TestFileHandle(t *testing.T) {
	fname := systemTestImage(t)
	h, err := windows.Open(fname, windows.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("opening %q: %v", fname, err)
	}
	defer windows.CloseHandle(h)

	byHandle, err := NewPEFromFileHandle(h)
	if err != nil {
		t.Fatalf("NewPEFromFileHandle: %v", err)
	}
	byName, err := NewPEFromFileName(fname)
	if err != nil {
		t.Fatalf("NewPEFromFileName: %v", err)
	}
	defer byName.Close()

	if !reflect.DeepEqual(byHandle.FileHeader(), byName.FileHeader()) {
		t.Errorf("FileHeader mismatch between handle and name")
	}
	if !reflect.DeepEqual(byHandle.Sections(), byName.Sections()) {
		t.Errorf("Sections mismatch between handle and name")
	}

	if err := byHandle.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// The caller's handle must survive Close.
	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		t.Errorf("handle no longer valid after Close: %v", err)
	}
}

func TestSystemVersionInfo(t *testing.T) {
	fname := systemTestImage(t)
	vi, err := NewVersionInfo(fname)
	if err != nil {
		if errors.Is(err, ErrNotPresent) {
			t.Skipf("No version info present in %q", fname)
		}
		t.Fatalf("NewVersionInfo failed: %v", err)
	}

	verNum := vi.VersionNumber()
	t.Logf("Version number: %q", verNum.String())
	if verNum.Major < 6 {
		t.Errorf("unexpected version %s for %q", verNum.String(), fname)
	}

	companyName, err := vi.CompanyName()
	if err != nil {
		t.Errorf("CompanyName failed: %v", err)
	} else {
		t.Logf("CompanyName: %q", companyName)
	}
}
