// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"errors"
)

// Status is the result code of an open or walk operation. Status implements
// error so that it may be wrapped and later matched with errors.Is.
type Status int

const (
	StatusSuccess     Status = iota // success
	StatusOpenError                 // the file could not be opened
	StatusReadError                 // a read returned fewer bytes than required
	StatusSeekError                 // a seek failed
	StatusOutOfMemory               // a declared table is too large to allocate
	StatusNotPE                     // the DOS header lacks the MZ magic
	StatusNotPELE                   // the PE signature is missing or byte-swapped
	StatusWrongImage                // the optional header magic is neither PE32 nor PE32+
)

var statusMessages = [...]string{
	StatusSuccess:     "success",
	StatusOpenError:   "file open error",
	StatusReadError:   "file read error",
	StatusSeekError:   "file seek error",
	StatusOutOfMemory: "memory allocation error",
	StatusNotPE:       "not a PE file",
	StatusNotPELE:     "wrong endianness",
	StatusWrongImage:  "wrong image type",
}

// String returns the fixed human-readable message for s.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusMessages) {
		return "(unknown status code)"
	}
	return statusMessages[s]
}

func (s Status) Error() string {
	return s.String()
}

// StatusOf returns the Status carried by err. A nil err is StatusSuccess;
// an error that carries no Status yields -1.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return -1
}

var (
	ErrBadLength       = errors.New("effective length did not match expected length")
	ErrNotCodeView     = errors.New("debug info is not CodeView")
	ErrNotPresent      = errors.New("not present in this PE image")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Visitor control values. A visitor returns nil to continue, or one of these
// to change the course of a walk. Any other non-nil error aborts the walk and
// is returned to the caller.
var (
	// SkipAll stops the walk; the walk itself then returns nil.
	SkipAll = errors.New("skip everything and stop the walk")
	// SkipDir, returned by a resource group visitor, skips the subtree below
	// that node. Returned by a resource leaf visitor it skips the remaining
	// entries of the enclosing directory.
	SkipDir = errors.New("skip this directory")
	// StopAfter, returned by a resource group visitor, walks the subtree below
	// that node and then stops the walk.
	StopAfter = errors.New("stop after this directory")
)
