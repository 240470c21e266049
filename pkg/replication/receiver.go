// Copyright 2025 Takhin Data, Inc.

package replication

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/laserkv/laser/pkg/compression"
	"github.com/laserkv/laser/pkg/logger"
	"github.com/laserkv/laser/pkg/mempool"
)

// CompletionFunc is invoked once a transfer finishes, successfully or not.
// namespace/ident identify the transfer in caller terms (e.g. a partition
// hash and base version); err is nil on success.
type CompletionFunc func(namespace string, ident string, err error)

// Receiver allocates connect URLs bound to local directories and streams
// incoming files into them (the design "Receiver side"). One Receiver may
// host many concurrent sessions, each behind its own listener.
type Receiver struct {
	tlsConfig *tls.Config
	pool      *mempool.BufferPool
	log       logger.Logger

	mu       sync.Mutex
	sessions map[string]*receiveSession
}

type receiveSession struct {
	listener net.Listener
	aborted  bool
	done     chan struct{}
}

// NewReceiver constructs a Receiver. tlsConfig may be nil for plaintext
// transfers.
func NewReceiver(tlsConfig *tls.Config) *Receiver {
	return &Receiver{
		tlsConfig: tlsConfig,
		pool:      mempool.NewBufferPool(),
		log:       *logger.Default().WithComponent("replication.receiver"),
	}
}

// Listen allocates a connect URL bound to destDir. Any pre-existing
// partial tree at destDir is removed first (the design detail floor).
// maxWait bounds how long the receiver waits for the sender to connect
// and finish before the session is treated as timed out; it should be
// max_server_wait_time_ms + abort_timeout_ms here.
func (r *Receiver) Listen(namespace, ident, destDir string, maxWait time.Duration, onComplete CompletionFunc) (connectURL string, err error) {
	if err := os.RemoveAll(destDir); err != nil {
		return "", fmt.Errorf("replication: clear receive dir %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("replication: create receive dir %s: %w", destDir, err)
	}

	var ln net.Listener
	if r.tlsConfig != nil {
		ln, err = tls.Listen("tcp", "0.0.0.0:0", r.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", "0.0.0.0:0")
	}
	if err != nil {
		return "", fmt.Errorf("replication: listen: %w", err)
	}

	sessionKey := namespace + "/" + ident
	sess := &receiveSession{listener: ln, done: make(chan struct{})}

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*receiveSession)
	}
	r.sessions[sessionKey] = sess
	r.mu.Unlock()

	go r.serve(sessionKey, sess, destDir, maxWait, onComplete)

	return ln.Addr().String(), nil
}

func (r *Receiver) serve(sessionKey string, sess *receiveSession, destDir string, maxWait time.Duration, onComplete CompletionFunc) {
	defer func() {
		r.mu.Lock()
		delete(r.sessions, sessionKey)
		r.mu.Unlock()
		close(sess.done)
	}()

	namespace, ident, _ := splitSessionKey(sessionKey)

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := sess.listener.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	var conn net.Conn
	select {
	case res := <-acceptCh:
		if res.err != nil {
			sess.listener.Close()
			onComplete(namespace, ident, fmt.Errorf("replication: accept: %w", res.err))
			return
		}
		conn = res.conn
	case <-time.After(maxWait):
		sess.listener.Close()
		onComplete(namespace, ident, fmt.Errorf("replication: timed out waiting for sender"))
		return
	}
	defer conn.Close()
	defer sess.listener.Close()

	if err := conn.SetDeadline(time.Now().Add(maxWait)); err != nil {
		onComplete(namespace, ident, fmt.Errorf("replication: set deadline: %w", err))
		return
	}

	if err := r.receiveAll(conn, destDir); err != nil {
		onComplete(namespace, ident, err)
		return
	}
	onComplete(namespace, ident, nil)
}

func (r *Receiver) receiveAll(conn net.Conn, destDir string) error {
	for {
		hdr, err := readFileHeader(conn)
		if err != nil {
			return fmt.Errorf("replication: read header: %w", err)
		}
		if hdr.end {
			return nil
		}

		destPath := filepath.Join(destDir, filepath.Base(hdr.name))
		if err := r.receiveOne(conn, destPath, hdr); err != nil {
			return err
		}
	}
}

func (r *Receiver) receiveOne(conn net.Conn, destPath string, hdr fileHeader) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("replication: create %s: %w", destPath, err)
	}
	defer f.Close()

	if compression.Type(hdr.compressionType) == compression.None {
		buf := r.pool.Get(64 * 1024)
		defer r.pool.Put(buf)
		if _, err := io.CopyBuffer(f, io.LimitReader(conn, hdr.payloadSize), buf); err != nil {
			return fmt.Errorf("replication: write %s: %w", destPath, err)
		}
		return nil
	}

	payload := make([]byte, hdr.payloadSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return fmt.Errorf("replication: read compressed payload for %s: %w", destPath, err)
	}
	raw, err := compression.Decompress(compression.Type(hdr.compressionType), payload)
	if err != nil {
		return fmt.Errorf("replication: decompress %s: %w", destPath, err)
	}
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("replication: write %s: %w", destPath, err)
	}
	return nil
}

// Abort cancels an in-flight session, idempotently (the design: "Aborts are
// idempotent").
func (r *Receiver) Abort(namespace, ident string) {
	sessionKey := namespace + "/" + ident
	r.mu.Lock()
	sess, ok := r.sessions[sessionKey]
	r.mu.Unlock()
	if !ok || sess.aborted {
		return
	}
	sess.aborted = true
	sess.listener.Close()
}

func splitSessionKey(key string) (namespace, ident string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
