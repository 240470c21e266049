// Copyright 2025 Takhin Data, Inc.

// Package compression wraps the payload codecs pkg/replication uses when
// streaming a partition's base/delta files: there is no negotiation, the
// operator picks one scheme per node via config, and Sender/Receiver tag
// every frame with the Type byte so a receiver never has to guess.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the codec a replication frame's payload was compressed
// with. It is carried as a single byte in the frame header so a receiver
// can decompress without out-of-band negotiation.
type Type int8

const (
	None   Type = 0
	GZIP   Type = 1
	Snappy Type = 2
	LZ4    Type = 3
	ZSTD   Type = 4
)

// Compress encodes data with the codec named by t. None returns data
// unchanged.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case GZIP:
		return compressGZIP(data)
	case Snappy:
		return compressSnappy(data)
	case LZ4:
		return compressLZ4(data)
	case ZSTD:
		return compressZSTD(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %d", t)
	}
}

// Decompress reverses Compress for the same Type.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case GZIP:
		return decompressGZIP(data)
	case Snappy:
		return decompressSnappy(data)
	case LZ4:
		return decompressLZ4(data)
	case ZSTD:
		return decompressZSTD(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %d", t)
	}
}

func compressGZIP(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressGZIP(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// Snappy trades ratio for speed. manager.go's default is None; Snappy is
// used only when config selects it.
func compressSnappy(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func decompressSnappy(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// ZSTD gives the best ratio of the four and is what base-snapshot
// transfers should use once a cluster cares more about network cost than
// CPU on the sending leader.
func compressZSTD(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressZSTD(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
