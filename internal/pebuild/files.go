// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pebuild

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tc-hib/winres"
)

// AddResources returns a copy of exe with rs compiled into a new .rsrc
// section, the way a resource compiler would leave it.
func AddResources(exe []byte, rs *winres.ResourceSet) ([]byte, error) {
	var out bytes.Buffer
	if err := rs.WriteToEXE(&out, bytes.NewReader(exe)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// WriteFile writes data to a file named name inside a temporary directory
// owned by t and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %q: %v", path, err)
	}
	return path
}
