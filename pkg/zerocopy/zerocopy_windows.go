// Copyright 2025 Takhin Data, Inc.

//go:build windows
// +build windows

package zerocopy

import (
	"io"
	"os"
)

// sendFile falls back to a regular copy on Windows; TransmitFile isn't
// worth the syscall plumbing for a build target pkg/replication's
// operators don't run on.
func sendFile(dst io.Writer, src *os.File, offset int64, count int64) (int64, error) {
	return fallbackCopy(dst, src, offset, count)
}

// fallbackCopy performs a regular buffer-based copy.
func fallbackCopy(dst io.Writer, src *os.File, offset int64, count int64) (int64, error) {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.CopyN(dst, src, count)
}
