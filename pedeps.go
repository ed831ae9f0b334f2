// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pedeps carries the name and version of the pedeps library. The
// parser itself lives in package pe.
package pedeps

import (
	"fmt"
)

// Name is the library name.
const Name = "pedeps"

const (
	VersionMajor = 0
	VersionMinor = 1
	VersionMicro = 6
)

// Version returns the library version as "major.minor.micro".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionMicro)
}

// FullName returns the library name followed by its version.
func FullName() string {
	return Name + " " + Version()
}

// VersionPacked returns the version with each component in its own byte,
// major first. The lowest byte is always zero.
func VersionPacked() uint32 {
	return VersionMajor<<24 | VersionMinor<<16 | VersionMicro<<8
}

// AtLeast reports whether the library version is at least
// major.minor.micro.
func AtLeast(major, minor, micro uint32) bool {
	return isVerGE(VersionMajor, major, VersionMinor, minor, VersionMicro, micro)
}

func isVerGE(lmajor, rmajor, lminor, rminor, lpatch, rpatch uint32) bool {
	return lmajor > rmajor ||
		lmajor == rmajor &&
			(lminor > rminor ||
				lminor == rminor && lpatch >= rpatch)
}
