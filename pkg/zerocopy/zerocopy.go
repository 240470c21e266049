// Copyright 2025 Takhin Data, Inc.

// Package zerocopy streams a partition's base/delta directory over the
// wire with as few userspace copies as possible. pkg/replication's Sender
// is the only caller: SendFile moves one file's bytes from an opened
// source onto the connection it is catching a follower up over, using
// the platform's sendfile syscall when the destination is a raw TCP
// connection and falling back to a buffered io.CopyN otherwise (TLS
// connections, pipes, anything sendfile can't target directly).
package zerocopy

import (
	"io"
	"os"
)

// SendFile transfers count bytes starting at offset from src to dst,
// using zero-copy I/O when dst is a raw TCP connection.
func SendFile(dst io.Writer, src *os.File, offset int64, count int64) (int64, error) {
	return sendFile(dst, src, offset, count)
}
