// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// NewPEFromFileHandle parses the PE headers from hfile, an open Win32 file handle.
// It does *not* consume hfile.
// Upon success it returns a non-nil *PEInfo, otherwise it returns a
// nil *PEInfo and a non-nil error.
// Call Close() on the returned *PEInfo when it is no longer needed.
func NewPEFromFileHandle(hfile windows.Handle, opts ...Option) (*PEInfo, error) {
	// Duplicate hfile so that we don't consume it.
	var hfileDup windows.Handle
	cp := windows.CurrentProcess()
	if err := windows.DuplicateHandle(
		cp,
		hfile,
		cp,
		&hfileDup,
		0,
		false,
		windows.DUPLICATE_SAME_ACCESS,
	); err != nil {
		return nil, fmt.Errorf("%w: %w", StatusOpenError, err)
	}

	return newPEFromFile(os.NewFile(uintptr(hfileDup), "PEFromFileHandle"), opts...)
}
