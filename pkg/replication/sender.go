// Copyright 2025 Takhin Data, Inc.

package replication

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/laserkv/laser/pkg/compression"
	"github.com/laserkv/laser/pkg/logger"
	"github.com/laserkv/laser/pkg/zerocopy"
)

// Sender serves a local directory's files to a peer that has already
// allocated a connect URL (the design "Sender side"). The leader plays
// this role during follower catch-up.
type Sender struct {
	tlsConfig   *tls.Config
	compression compression.Type
	log         logger.Logger
}

// NewSender constructs a Sender. tlsConfig may be nil for plaintext
// transfers; compressionType may be compression.None.
func NewSender(tlsConfig *tls.Config, compressionType compression.Type) *Sender {
	return &Sender{
		tlsConfig:   tlsConfig,
		compression: compressionType,
		log:         *logger.Default().WithComponent("replication.sender"),
	}
}

// Send dials connectURL and streams every regular file directly under dir,
// in a deterministic order, honoring ctx's per-transfer deadline.
// Aborting ctx closes the connection; a
// half-sent stream leaves the receiver to report the resulting read error,
// which the caller surfaces as a failed transfer rather than a partial
// success.
func (s *Sender) Send(ctx context.Context, connectURL, dir string) error {
	var d net.Dialer
	var conn net.Conn
	var err error
	if s.tlsConfig != nil {
		conn, err = (&tls.Dialer{NetDialer: &d, Config: s.tlsConfig}).DialContext(ctx, "tcp", connectURL)
	} else {
		conn, err = d.DialContext(ctx, "tcp", connectURL)
	}
	if err != nil {
		return fmt.Errorf("replication: dial %s: %w", connectURL, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("replication: set deadline: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("replication: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replication: send aborted: %w", err)
		}
		if err := s.sendOne(conn, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}
	return writeStreamEnd(conn)
}

func (s *Sender) sendOne(conn net.Conn, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("replication: stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("replication: open %s: %w", path, err)
	}
	defer f.Close()

	if s.compression == compression.None {
		if err := writeFileHeader(conn, name, byte(compression.None), info.Size(), info.Size()); err != nil {
			return fmt.Errorf("replication: write header for %s: %w", name, err)
		}
		if _, err := zerocopy.SendFile(conn, f, 0, info.Size()); err != nil {
			return fmt.Errorf("replication: send %s: %w", name, err)
		}
		return nil
	}

	raw := make([]byte, info.Size())
	if _, err := io.ReadFull(f, raw); err != nil {
		return fmt.Errorf("replication: read %s for compression: %w", name, err)
	}
	payload, err := compression.Compress(s.compression, raw)
	if err != nil {
		return fmt.Errorf("replication: compress %s: %w", name, err)
	}
	if err := writeFileHeader(conn, name, byte(s.compression), info.Size(), int64(len(payload))); err != nil {
		return fmt.Errorf("replication: write header for %s: %w", name, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("replication: send compressed %s: %w", name, err)
	}
	return nil
}
