// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dblohm7/pedeps/pe"
	"github.com/spf13/cobra"
)

var dataDirectoryNames = [...]string{
	"export", "import", "resource", "exception", "security", "basereloc",
	"debug", "architecture", "globalptr", "tls", "load config",
	"bound import", "IAT", "delay import", "COM descriptor", "reserved",
}

func newHeadersCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "headers", "Print essential headers", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		m := nfo.Machine()
		fmt.Fprintf(w, "Machine:          0x%04X %s (%s, %d-bit)\n", m, pe.MachineName(m), pe.ArchName(m), pe.MachineBits(m))
		fmt.Fprintf(w, "Characteristics:  0x%04X\n", nfo.Characteristics())
		fmt.Fprintf(w, "DLL:              %v\n", nfo.IsDLL())
		fmt.Fprintf(w, "Stripped:         %v\n", nfo.IsStripped())
		if nfo.OptionalHeader() == nil {
			fmt.Fprintln(w, "No optional header")
			return nil
		}

		format := "PE32"
		if nfo.Is64Bit() {
			format = "PE32+"
		}
		fmt.Fprintf(w, "Signature:        0x%03X (%s)\n", nfo.Signature(), format)
		major, minor := nfo.SubsystemVersion()
		fmt.Fprintf(w, "Subsystem:        %s %d.%d\n", pe.SubsystemName(nfo.Subsystem()), major, minor)
		major, minor = nfo.OperatingSystemVersion()
		fmt.Fprintf(w, "OS version:       %d.%d\n", major, minor)
		major, minor = nfo.ImageVersion()
		fmt.Fprintf(w, "Image version:    %d.%d\n", major, minor)
		fmt.Fprintf(w, "Image base:       0x%X\n", nfo.ImageBase())
		fmt.Fprintf(w, "Entry point:      0x%08X\n", nfo.EntryPoint())

		for i, dde := range nfo.DataDirectory() {
			if dde.VirtualAddress == 0 {
				continue
			}
			name := "reserved"
			if i < len(dataDirectoryNames) {
				name = dataDirectoryNames[i]
			}
			fmt.Fprintf(w, "Directory %2d:     0x%08X %8d %s\n", i, dde.VirtualAddress, dde.Size, name)
		}
		return nil
	})
}

func newSectionsCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "sections", "Print section headers", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		sections := nfo.Sections()
		fmt.Fprintf(w, "%d sections:\n", len(sections))
		for i, sec := range sections {
			code := ""
			if sec.IsCode() {
				code = " code"
			}
			fmt.Fprintf(w, "%2d %-8s VA 0x%08X vsize 0x%08X raw 0x%08X size 0x%08X%s\n",
				i, sec.NameString(), sec.VirtualAddress, sec.VirtualSize, sec.PointerToRawData, sec.SizeOfRawData, code)
		}
		return nil
	})
}

func newImportsCmd(gf *globalFlags) *cobra.Command {
	var short bool
	importsCmd := peCommand(gf, "imports", "List imported modules and symbols", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		if short {
			modules, err := nfo.ImportedModules()
			if err != nil {
				return err
			}
			for _, m := range modules {
				fmt.Fprintln(w, m)
			}
			return nil
		}
		return nfo.Imports(func(module, symbol string) error {
			fmt.Fprintf(w, "%s: %s\n", module, symbol)
			return nil
		})
	})
	importsCmd.Flags().BoolVarP(&short, "short", "s", false, "only list the distinct module names")
	return importsCmd
}

func newExportsCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "exports", "List exported symbols", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		return nfo.Exports(func(e pe.Export) error {
			name := e.Name
			if name == "" {
				name = "(no name)"
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%5d 0x%08X %s", e.Ordinal, e.RVA, name)
			if e.IsData {
				b.WriteString(" [data]")
			}
			if e.IsForwarded() {
				fmt.Fprintf(&b, " -> %s", e.Forwarder)
			}
			fmt.Fprintln(w, b.String())
			return nil
		})
	})
}

func newResourcesCmd(gf *globalFlags) *cobra.Command {
	var showData bool
	resourcesCmd := peCommand(gf, "resources", "Print the resource tree", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		group := func(node *pe.ResourceNode) error {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", node.Level), node)
			return nil
		}
		leaf := func(nfo *pe.PEInfo, node *pe.ResourceNode, rd pe.ResourceData) error {
			fmt.Fprintf(w, "%slanguage %s: %d bytes at 0x%08X, code page %d\n",
				strings.Repeat("  ", node.Level), node, rd.Size, rd.RVA, rd.CodePage)
			if !showData {
				return nil
			}
			data, err := nfo.ReadResourceData(rd)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s%q\n", strings.Repeat("  ", node.Level+1), data)
			return nil
		}
		return nfo.Resources(group, leaf)
	})
	resourcesCmd.Flags().BoolVar(&showData, "data", false, "also print each resource's contents")
	return resourcesCmd
}

func newVersionCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "version", "Print the version resource", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		vi, err := nfo.VersionInfo()
		if err != nil {
			return err
		}
		fv, pv := vi.VersionNumber(), vi.ProductVersionNumber()
		fmt.Fprintf(w, "File version:    %s\n", fv.String())
		fmt.Fprintf(w, "Product version: %s\n", pv.String())
		for _, tr := range vi.Translations {
			fmt.Fprintf(w, "Translation:     %04x %04x\n", tr.Language, tr.CodePage)
		}
		for _, st := range vi.StringTables {
			fmt.Fprintf(w, "[%s]\n", st.Key)
			for _, e := range st.Entries {
				fmt.Fprintf(w, "  %s = %s\n", e.Key, e.Value)
			}
		}
		return nil
	})
}

func newDebugInfoCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "debuginfo", "Print debug directory entries", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		dirs, err := nfo.DebugDirectories()
		if errors.Is(err, pe.ErrNotPresent) {
			fmt.Fprintln(w, "No debug directory")
			return nil
		}
		if err != nil {
			return err
		}
		for i, de := range dirs {
			fmt.Fprintf(w, "Entry %d: type %d, %d bytes at 0x%08X\n", i, de.Type, de.SizeOfData, de.PointerToRawData)
			if de.Type != pe.IMAGE_DEBUG_TYPE_CODEVIEW {
				continue
			}
			cv, err := nfo.ExtractCodeViewInfo(de)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  PDB:   %s\n", cv.PDBPath)
			fmt.Fprintf(w, "  GUID:  %s\n", cv.GUID)
			fmt.Fprintf(w, "  Age:   %d\n", cv.Age)
			fmt.Fprintf(w, "  Index: %s\n", cv)
		}
		return nil
	})
}

func newCertsCmd(gf *globalFlags) *cobra.Command {
	return peCommand(gf, "certs", "List embedded Authenticode certificates", func(cmd *cobra.Command, nfo *pe.PEInfo) error {
		w := cmd.OutOrStdout()
		certs, err := nfo.AuthenticodeCerts()
		if errors.Is(err, pe.ErrNotPresent) {
			fmt.Fprintln(w, "Not signed")
			return nil
		}
		if err != nil {
			return err
		}
		for i := range certs {
			c := &certs[i]
			fmt.Fprintf(w, "Certificate %d: revision 0x%04X, type %d, %d bytes\n", i, c.Revision(), c.Type(), len(c.Data()))
		}
		return nil
	})
}
