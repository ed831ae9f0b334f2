// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	dpe "debug/pe"
	"strings"
	"testing"

	"github.com/dblohm7/pedeps/internal/pebuild"
	"github.com/stretchr/testify/require"
	"github.com/tc-hib/winres"
	"github.com/tc-hib/winres/version"
)

// buildTestFile writes a 64-bit DLL with imports, exports, a debug record
// and a version resource.
func buildTestFile(t *testing.T) string {
	t.Helper()
	img := &pebuild.Image{Is64: true, EntryPoint: 0x1000, Characteristics: dpe.IMAGE_FILE_DLL}
	img.AddSection(".text", pebuild.CodeCharacteristics).Data = bytes.Repeat([]byte{0xC3}, 0x200)

	idata := img.AddSection(".idata", pebuild.DataCharacteristics)
	var descSize uint32
	idata.Data, descSize = pebuild.BuildImports(idata.VirtualAddress, true, []pebuild.Import{
		{Module: "KERNEL32.dll", Symbols: []string{"ExitProcess", "@42"}},
		{Module: "USER32.dll", Symbols: []string{"MessageBoxW"}},
	}, false)
	img.SetDirectory(dpe.IMAGE_DIRECTORY_ENTRY_IMPORT, idata.VirtualAddress, descSize)

	edata := img.AddSection(".edata", pebuild.DataCharacteristics)
	var exportSize uint32
	edata.Data, exportSize = pebuild.BuildExports(edata.VirtualAddress, "sample.dll", 1, []pebuild.ExportFunc{
		{Name: "DoWork", RVA: 0x1000},
		{Name: "Forwarded", Forwarder: "KERNEL32.Sleep"},
	})
	img.SetDirectory(dpe.IMAGE_DIRECTORY_ENTRY_EXPORT, edata.VirtualAddress, exportSize)

	var rs winres.ResourceSet
	var vi version.Info
	vi.SetFileVersion("2.0.1.7")
	vi.SetProductVersion("2.0.0.0")
	require.NoError(t, vi.Set(version.LangDefault, "CompanyName", "Sample Co"))
	rs.SetVersionInfo(vi)
	require.NoError(t, rs.Set(winres.RT_RCDATA, winres.Name("GREETING"), 0x409, []byte("hi there")))

	image, err := pebuild.AddResources(img.Bytes(), &rs)
	require.NoError(t, err)
	return pebuild.WriteFile(t, "sample.dll", image)
}

func runDumpPE(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type dumpTestCase struct {
	args []string
	want []string
}

func TestSubcommands(t *testing.T) {
	path := buildTestFile(t)

	testCases := []dumpTestCase{
		{
			args: []string{"headers"},
			want: []string{"AMD AMD64 (x64) (x86_64, 64-bit)", "DLL:              true", "PE32+", "Windows console 6.0", "Entry point:      0x00001000", "import"},
		},
		{
			args: []string{"sections"},
			want: []string{"4 sections:", ".text", ".idata", ".edata", ".rsrc", " code"},
		},
		{
			args: []string{"imports"},
			want: []string{"KERNEL32.dll: ExitProcess", "KERNEL32.dll: @42", "USER32.dll: MessageBoxW"},
		},
		{
			args: []string{"imports", "--short"},
			want: []string{"KERNEL32.dll\nUSER32.dll\n"},
		},
		{
			args: []string{"exports"},
			want: []string{"1 0x00001000 DoWork", "Forwarded [data] -> KERNEL32.Sleep"},
		},
		{
			args: []string{"resources", "--data"},
			want: []string{"raw data", `"GREETING"`, "version", `"hi there"`},
		},
		{
			args: []string{"version"},
			want: []string{"File version:    2.0.1.7", "Product version: 2.0.0.0", "CompanyName = Sample Co"},
		},
		{
			args: []string{"debuginfo"},
			want: []string{"No debug directory"},
		},
		{
			args: []string{"certs"},
			want: []string{"Not signed"},
		},
	}

	for _, mapped := range []bool{false, true} {
		for _, tc := range testCases {
			args := append(tc.args, path)
			if mapped {
				args = append([]string{"--mmap"}, args...)
			}
			t.Run(strings.Join(args[:len(args)-1], " "), func(t *testing.T) {
				got, err := runDumpPE(t, args...)
				if err != nil {
					t.Fatalf("dumppe %v: %v", tc.args, err)
				}
				for _, w := range tc.want {
					if !strings.Contains(got, w) {
						t.Errorf("dumppe %v output lacks %q:\n%s", tc.args, w, got)
					}
				}
			})
		}
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := runDumpPE(t, "headers"); err == nil {
		t.Errorf("headers without a file succeeded")
	}

	notPE := pebuild.WriteFile(t, "notpe.txt", bytes.Repeat([]byte("text "), 40))
	_, err := runDumpPE(t, "headers", notPE)
	if err == nil || !strings.Contains(err.Error(), "not a PE file") {
		t.Errorf("headers on a text file: got %v", err)
	}
}
