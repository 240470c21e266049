// Copyright 2025 Takhin Data, Inc.

// Package metainfo implements Laser's MetaInfoStore: a
// small ordered store recording, per partition, which on-disk version is
// currently loaded and which delta versions are layered on top of it.
// bbolt's single-file nested-bucket B+tree fits this well: one file,
// versioned buckets, no separate compaction process to run.
package metainfo

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var (
	baseBucket  = []byte("base_version")
	deltaBucket = []byte("delta_versions")
)

// Store is a MetaInfoStore backed by a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt-backed meta-info file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metainfo: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(baseBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(deltaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metainfo: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetVersion returns the base_version recorded for partitionHash, or false
// if the partition has no recorded version yet.
func (s *Store) GetVersion(partitionHash uint64) (string, bool, error) {
	key := partitionKey(partitionHash)
	var version string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(baseBucket).Get(key)
		if v != nil {
			version = string(v)
			found = true
		}
		return nil
	})
	return version, found, err
}

// SetVersion records the base_version currently loaded for partitionHash.
func (s *Store) SetVersion(partitionHash uint64, version string) error {
	key := partitionKey(partitionHash)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(baseBucket).Put(key, []byte(version))
	})
}

// GetDeltaVersions returns the ordered delta versions layered on top of the
// base version for partitionHash.
func (s *Store) GetDeltaVersions(partitionHash uint64) ([]string, error) {
	key := partitionKey(partitionHash)
	var joined string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(deltaBucket).Get(key)
		if v != nil {
			joined = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, ","), nil
}

// SetDeltaVersions replaces the delta-version list for partitionHash.
func (s *Store) SetDeltaVersions(partitionHash uint64, versions []string) error {
	key := partitionKey(partitionHash)
	joined := strings.Join(versions, ",")
	return s.db.Update(func(tx *bbolt.Tx) error {
		if joined == "" {
			return tx.Bucket(deltaBucket).Delete(key)
		}
		return tx.Bucket(deltaBucket).Put(key, []byte(joined))
	})
}

// DeletePartition removes both the base-version and delta-version entries
// for partitionHash, e.g. when a partition is unmounted or its shard
// reassigned away from this node.
func (s *Store) DeletePartition(partitionHash uint64) error {
	key := partitionKey(partitionHash)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(baseBucket).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(deltaBucket).Delete(key)
	})
}

func partitionKey(partitionHash uint64) []byte {
	return []byte(strconv.FormatUint(partitionHash, 10))
}

// NewLeaderVersion returns the version an empty LEADER partition starts
// from: the literal "default".
func NewLeaderVersion() string {
	return "default"
}

// NewFollowerVersion returns the version an empty FOLLOWER partition
// starts from: "<YYYYMMDDHHMMSS>_<hex(H(secs,rand))>". The random
// component comes from crypto/rand; no ecosystem "secure random" helper
// appears anywhere in the corpus, so this is a deliberate stdlib leaf.
func NewFollowerVersion(now time.Time) (string, error) {
	var randBuf [4]byte
	if _, err := rand.Read(randBuf[:]); err != nil {
		return "", fmt.Errorf("metainfo: generate follower version: %w", err)
	}
	secs := uint64(now.Unix())
	h := fnv64a(secs, binary.BigEndian.Uint32(randBuf[:]))
	return fmt.Sprintf("%s_%x", now.Format("20060102150405"), h), nil
}

func fnv64a(secs uint64, randPart uint32) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], secs)
	binary.BigEndian.PutUint32(buf[8:], randPart)
	for _, b := range buf {
		h ^= uint64(b)
		h *= prime
	}
	return h
}
