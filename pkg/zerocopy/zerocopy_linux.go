// Copyright 2025 Takhin Data, Inc.

//go:build linux
// +build linux

package zerocopy

import (
	"os"
	"syscall"
)

// sendFileImpl performs the sendfile(2) syscall on Linux, looping since a
// single call caps out around 2GB and can return early on EINTR/EAGAIN.
func sendFileImpl(dstFd int, src *os.File, offset int64, count int64) (int64, error) {
	srcFd := int(src.Fd())
	var written int64

	remaining := count
	off := offset

	for remaining > 0 {
		n, err := syscall.Sendfile(dstFd, srcFd, &off, int(remaining))
		written += int64(n)
		remaining -= int64(n)

		if err != nil {
			if err == syscall.EINTR || err == syscall.EAGAIN {
				continue
			}
			return written, err
		}

		if n == 0 {
			break
		}
	}

	return written, nil
}
