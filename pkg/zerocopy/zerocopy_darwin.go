// Copyright 2025 Takhin Data, Inc.

//go:build darwin
// +build darwin

package zerocopy

import (
	"os"
	"syscall"
)

// sendFileImpl performs the sendfile(2) syscall on macOS/Darwin. Go's
// syscall.Sendfile already adapts the BSD sendfile signature
// (sendfile(fd, s, offset, *len, hdtr, flags)) to the Linux-shaped
// (outfd, infd, *offset, count) one this package calls uniformly.
func sendFileImpl(dstFd int, src *os.File, offset int64, count int64) (int64, error) {
	srcFd := int(src.Fd())
	off := offset

	written, err := syscall.Sendfile(dstFd, srcFd, &off, int(count))
	if err != nil {
		if (err == syscall.EINTR || err == syscall.EAGAIN) && written > 0 {
			return int64(written), nil
		}
		return 0, err
	}

	return int64(written), nil
}
