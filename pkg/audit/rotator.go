// Copyright 2025 Takhin Data, Inc.

package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rotator is the io.Writer Logger writes its append-only audit log to. It
// rolls the file once it crosses MaxSize, optionally gzips the rolled
// copy, and prunes old copies by count and age so the audit trail doesn't
// grow without bound on a long-lived node.
type Rotator struct {
	mu     sync.Mutex
	file   *os.File
	config RotatorConfig
	size   int64
}

// RotatorConfig controls when and how Rotator rolls the audit log.
type RotatorConfig struct {
	Filename   string // full path to the audit log file
	MaxSize    int64  // size in bytes that triggers a rotation
	MaxBackups int    // number of rotated backups to retain
	MaxAge     int    // age in days after which a backup is pruned
	Compress   bool   // gzip rotated backups
}

// NewRotator opens (or creates) config.Filename and returns a Rotator
// ready to receive writes.
func NewRotator(config RotatorConfig) (*Rotator, error) {
	r := &Rotator{
		config: config,
	}

	if err := r.openFile(); err != nil {
		return nil, err
	}

	return r, nil
}

// Write implements io.Writer, rotating first if p would push the file
// past MaxSize.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.config.MaxSize {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)

	return n, err
}

// Close closes the underlying file handle.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return err
		}
		r.file = nil
	}

	return nil
}

func (r *Rotator) openFile() error {
	info, err := os.Stat(r.config.Filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat log file: %w", err)
		}
	}

	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	r.file = file
	if info != nil {
		r.size = info.Size()
	}

	return nil
}

// rotate renames the current file to a timestamped backup and opens a
// fresh one in its place. Compression and pruning of old backups happen
// in the background so a write burst never stalls on them.
func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	backupName := fmt.Sprintf("%s.%s", r.config.Filename, timestamp)

	if err := os.Rename(r.config.Filename, backupName); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.config.Compress {
		go r.compressFile(backupName)
	}

	if err := r.openFile(); err != nil {
		return err
	}

	go r.cleanupOldBackups()

	return nil
}

func (r *Rotator) compressFile(filename string) {
	compressed := filename + ".gz"

	in, err := os.Open(filename)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(compressed)
	if err != nil {
		return
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	defer gzWriter.Close()

	if _, err := io.Copy(gzWriter, in); err != nil {
		os.Remove(compressed)
		return
	}

	os.Remove(filename)
}

func (r *Rotator) cleanupOldBackups() {
	dir := filepath.Dir(r.config.Filename)
	base := filepath.Base(r.config.Filename)

	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	backups := make([]os.DirEntry, 0)
	for _, file := range files {
		if strings.HasPrefix(file.Name(), base+".") && file.Name() != base {
			backups = append(backups, file)
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		iInfo, _ := backups[i].Info()
		jInfo, _ := backups[j].Info()
		return iInfo.ModTime().After(jInfo.ModTime())
	})

	if r.config.MaxBackups > 0 && len(backups) > r.config.MaxBackups {
		for _, file := range backups[r.config.MaxBackups:] {
			os.Remove(filepath.Join(dir, file.Name()))
		}
		backups = backups[:r.config.MaxBackups]
	}

	if r.config.MaxAge > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.config.MaxAge)
		for _, file := range backups {
			info, err := file.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				os.Remove(filepath.Join(dir, file.Name()))
			}
		}
	}
}
