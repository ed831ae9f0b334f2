// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
)

// NewPEFromMappedFile maps the PE binary located at filename into memory
// read-only and parses its headers from the mapping. Directory walks then
// read directly from the mapping instead of issuing file I/O.
// Call Close() on the returned *PEInfo to unmap the file.
func NewPEFromMappedFile(filename string, opts ...Option) (*PEInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", StatusOpenError, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mapping %q: %w", StatusOutOfMemory, filename, err)
	}

	unmap := func() error {
		return errors.Join(m.Unmap(), f.Close())
	}

	opts = append(opts[:len(opts):len(opts)], withFields(logrus.Fields{"file": filename, "mapped": true}))
	nfo, err := loadHeaders(newSource(bytes.NewReader(m)), opts...)
	if err != nil {
		unmap()
		return nil, err
	}
	nfo.release = unmap
	return nfo, nil
}
