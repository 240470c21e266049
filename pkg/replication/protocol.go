// Copyright 2025 Takhin Data, Inc.

// Package replication implements Laser's ReplicationTransport (C7):
// point-to-point bulk transfer of a partition's underlying engine
// files from a leader to a follower. A follower's Receiver allocates a
// connect URL bound to a local directory; the leader's Sender dials that
// URL and pushes the directory's files; the receiver's completion
// callback fires with (namespace, ident, error) once the stream ends.
//
// The wire shape is a flat, length-prefixed file stream rather than an
// RPC-framed protocol, mirroring WDT (the bulk-transfer tool
// its replicate_wdt RPC is named after): a dedicated TCP connection per
// transfer, zero-copy sendfile on the sender side (pkg/zerocopy),
// and optional stream compression (pkg/compression) when
// bandwidth, not CPU, is the bottleneck.
package replication

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frame header: [4-byte name length][name][1-byte compression type][8-byte
// original size][8-byte payload size (possibly compressed)]. A zero name
// length terminates the stream cleanly.
func writeFileHeader(w io.Writer, name string, compressionType byte, originalSize, payloadSize int64) error {
	if len(name) > 0xFFFF {
		return fmt.Errorf("replication: file name too long: %d bytes", len(name))
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(name)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	var rest [17]byte
	rest[0] = compressionType
	binary.BigEndian.PutUint64(rest[1:9], uint64(originalSize))
	binary.BigEndian.PutUint64(rest[9:], uint64(payloadSize))
	_, err := w.Write(rest[:])
	return err
}

func writeStreamEnd(w io.Writer) error {
	var buf [4]byte // name length 0
	_, err := w.Write(buf[:])
	return err
}

type fileHeader struct {
	name            string
	compressionType byte
	originalSize    int64
	payloadSize     int64
	end             bool
}

func readFileHeader(r io.Reader) (fileHeader, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fileHeader{}, err
	}
	nameLen := binary.BigEndian.Uint32(lenBuf[:])
	if nameLen == 0 {
		return fileHeader{end: true}, nil
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return fileHeader{}, err
	}
	var rest [17]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return fileHeader{}, err
	}
	return fileHeader{
		name:            string(nameBuf),
		compressionType: rest[0],
		originalSize:    int64(binary.BigEndian.Uint64(rest[1:9])),
		payloadSize:     int64(binary.BigEndian.Uint64(rest[9:])),
	}, nil
}
