// Copyright 2025 Takhin Data, Inc.

//go:build linux || darwin
// +build linux darwin

package zerocopy

import (
	"io"
	"net"
	"os"
	"syscall"
)

// sendFile tries the platform sendfile syscall when dst is a raw TCP
// connection (the case pkg/replication's Sender hits when it dials
// without TLS), falling back to a buffered copy for anything else (TLS
// conns, pipes, the test suite's in-memory writers).
func sendFile(dst io.Writer, src *os.File, offset int64, count int64) (int64, error) {
	if conn, ok := dst.(*net.TCPConn); ok {
		return sendFileToConn(conn, src, offset, count)
	}
	return fallbackCopy(dst, src, offset, count)
}

// sendFileToConn uses sendfile(2) to send data to a TCP connection.
func sendFileToConn(conn *net.TCPConn, src *os.File, offset int64, count int64) (int64, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fallbackCopy(conn, src, offset, count)
	}

	var written int64
	var sendErr error

	err = rawConn.Write(func(dstFd uintptr) bool {
		written, sendErr = sendFileImpl(int(dstFd), src, offset, count)
		return sendErr == nil
	})

	if err != nil {
		return fallbackCopy(conn, src, offset, count)
	}

	if sendErr != nil {
		if sendErr == syscall.EINVAL || sendErr == syscall.ENOSYS || sendErr == syscall.EOPNOTSUPP {
			return fallbackCopy(conn, src, offset, count)
		}
		return written, sendErr
	}

	return written, nil
}

// fallbackCopy performs a regular buffer-based copy, seeking src to
// offset first since sendfile's offset semantics don't apply here.
func fallbackCopy(dst io.Writer, src *os.File, offset int64, count int64) (int64, error) {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.CopyN(dst, src, count)
}
