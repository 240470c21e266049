// Copyright 2025 Takhin Data, Inc.

// Package engine provides Laser's reference StorageEngine.
// The core treats the engine as an opaque, per-partition ordered key-value
// store; this package is one concrete implementation of that interface,
// backed by go.etcd.io/bbolt, a small embedded ordered-store that needs
// no separate server process per partition.
package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/laserkv/laser/pkg/codec"
	"github.com/laserkv/laser/pkg/lasererr"
)

var dataBucket = []byte("data")
var ttlBucket = []byte("ttl")

// VersionUpdateFunc is invoked when the engine detects an externally
// initiated version change (the design on_version_update callback) — used
// by a follower's IngestController to notice a leader-driven swap.
type VersionUpdateFunc func(dbHash uint64, version string)

// Engine is a per-partition StorageEngine instance rooted at one versioned
// on-disk directory.
type Engine struct {
	mu   sync.RWMutex
	db   *bbolt.DB
	path string

	onVersionUpdate VersionUpdateFunc

	readOps  uint64
	writeOps uint64
}

// Open opens (creating if absent) the engine file at path.
func Open(path string) (*Engine, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(ttlBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: init buckets: %w", err)
	}
	return &Engine{db: db, path: path}, nil
}

// Close releases the underlying bbolt file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// OnVersionUpdate registers the callback invoked on an externally-detected
// version change.
func (e *Engine) OnVersionUpdate(fn VersionUpdateFunc) {
	e.mu.Lock()
	e.onVersionUpdate = fn
	e.mu.Unlock()
}

// NotifyVersionUpdate is called by IngestController after a leader-driven
// swap so the engine can fan the notification out to its registered
// callback.
func (e *Engine) NotifyVersionUpdate(dbHash uint64, version string) {
	e.mu.RLock()
	fn := e.onVersionUpdate
	e.mu.RUnlock()
	if fn != nil {
		fn(dbHash, version)
	}
}

func (e *Engine) expired(tx *bbolt.Tx, key []byte) bool {
	v := tx.Bucket(ttlBucket).Get(key)
	if v == nil {
		return false
	}
	deadline, _ := strconv.ParseInt(string(v), 10, 64)
	return time.Now().UnixMilli() > deadline
}

// Get retrieves a raw-string/counter/map-meta/list-meta/set-meta value.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	e.readOps++
	e.mu.Unlock()

	var out []byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		if e.expired(tx, key) {
			return lasererr.New(lasererr.KeyExpired, "key expired")
		}
		v := tx.Bucket(dataBucket).Get(key)
		if v == nil {
			return lasererr.New(lasererr.NotFound, "key not found")
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Set stores data under key, unconditionally.
func (e *Engine) Set(key, data []byte) error {
	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()
	return e.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, data)
	})
}

// MSet stores multiple keys atomically.
func (e *Engine) MSet(keys [][]byte, datas [][]byte) error {
	if len(keys) != len(datas) {
		return lasererr.New(lasererr.ValueTypeInvalid, "mset: key/value count mismatch")
	}
	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()
	return e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dataBucket)
		for i, k := range keys {
			if err := b.Put(k, datas[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// DelKey deletes a key unconditionally.
func (e *Engine) DelKey(key []byte) error {
	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()
	return e.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(dataBucket).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(ttlBucket).Delete(key)
	})
}

// Exists reports whether key is present and unexpired.
func (e *Engine) Exists(key []byte) (bool, error) {
	var found bool
	err := e.db.View(func(tx *bbolt.Tx) error {
		if e.expired(tx, key) {
			return nil
		}
		found = tx.Bucket(dataBucket).Get(key) != nil
		return nil
	})
	return found, err
}

// Expire sets a TTL (milliseconds from now) on key.
func (e *Engine) Expire(key []byte, ttlMs int64) error {
	deadline := time.Now().UnixMilli() + ttlMs
	return e.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(dataBucket).Get(key) == nil {
			return lasererr.New(lasererr.NotFound, "key not found")
		}
		return tx.Bucket(ttlBucket).Put(key, []byte(strconv.FormatInt(deadline, 10)))
	})
}

// TTL returns the remaining milliseconds until key expires, or -1 if key
// carries no TTL.
func (e *Engine) TTL(key []byte) (int64, error) {
	var remaining int64 = -1
	err := e.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(ttlBucket).Get(key)
		if v == nil {
			return nil
		}
		deadline, _ := strconv.ParseInt(string(v), 10, 64)
		remaining = deadline - time.Now().UnixMilli()
		return nil
	})
	return remaining, err
}

// Incrby adds delta to the counter stored at key (creating it at 0 if
// absent), saturating at math.MaxInt64/math.MinInt64 rather than wrapping
// on overflow.
func (e *Engine) Incrby(key []byte, delta int64) (int64, error) {
	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()
	var result int64
	err := e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dataBucket)
		cur := b.Get(key)
		var n int64
		if cur != nil {
			parsed, err := strconv.ParseInt(string(cur), 10, 64)
			if err != nil {
				return lasererr.New(lasererr.ValueTypeInvalid, "value is not a counter")
			}
			n = parsed
		}
		n = saturatingAdd(n, delta)
		result = n
		return b.Put(key, []byte(strconv.FormatInt(n, 10)))
	})
	return result, err
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		if b > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return sum
}

// columnFamilyBucketName returns the nested-bucket name used for a hash,
// list, set, or zset field family rooted at key.
func columnFamilyBucketName(key []byte) []byte {
	return append([]byte("cf:"), key...)
}

// HSet sets one field in the hash stored at key.
func (e *Engine) HSet(key, field, value []byte) error {
	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf, err := tx.Bucket(dataBucket).CreateBucketIfNotExists(columnFamilyBucketName(key))
		if err != nil {
			return err
		}
		return cf.Put(field, value)
	})
}

// HGet retrieves one field from the hash stored at key.
func (e *Engine) HGet(key, field []byte) ([]byte, error) {
	e.mu.Lock()
	e.readOps++
	e.mu.Unlock()
	var out []byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return lasererr.New(lasererr.NotFound, "hash not found")
		}
		v := cf.Get(field)
		if v == nil {
			return lasererr.New(lasererr.NotFound, "field not found")
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// HDel deletes one field from the hash stored at key.
func (e *Engine) HDel(key, field []byte) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		return cf.Delete(field)
	})
}

// HGetAll returns every field/value pair in the hash stored at key.
func (e *Engine) HGetAll(key []byte) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := e.db.View(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		return cf.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// HLen returns the number of fields in the hash stored at key.
func (e *Engine) HLen(key []byte) (int, error) {
	all, err := e.HGetAll(key)
	return len(all), err
}

// HExists reports whether field exists in the hash stored at key.
func (e *Engine) HExists(key, field []byte) (bool, error) {
	var found bool
	err := e.db.View(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		found = cf.Get(field) != nil
		return nil
	})
	return found, err
}

// SAdd adds member to the set stored at key.
func (e *Engine) SAdd(key, member []byte) error {
	return e.HSet(key, member, []byte{1})
}

// SDel removes member from the set stored at key.
func (e *Engine) SDel(key, member []byte) error {
	return e.HDel(key, member)
}

// HasMember reports whether member is present in the set stored at key.
func (e *Engine) HasMember(key, member []byte) (bool, error) {
	return e.HExists(key, member)
}

// Members returns every member of the set stored at key.
func (e *Engine) Members(key []byte) ([][]byte, error) {
	all, err := e.HGetAll(key)
	if err != nil {
		return nil, err
	}
	members := make([][]byte, 0, len(all))
	for k := range all {
		members = append(members, []byte(k))
	}
	sort.Slice(members, func(i, j int) bool { return string(members[i]) < string(members[j]) })
	return members, nil
}

// LPush prepends values to the list stored at key. Element order within
// the bbolt bucket is maintained via a monotonically decreasing sequence
// index so lexicographic iteration yields list order.
func (e *Engine) LPush(key []byte, value []byte) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf, err := tx.Bucket(dataBucket).CreateBucketIfNotExists(columnFamilyBucketName(key))
		if err != nil {
			return err
		}
		seq, _ := cf.NextSequence()
		return cf.Put(listIndexKey(-int64(seq)), value)
	})
}

// RPush appends values to the list stored at key.
func (e *Engine) RPush(key []byte, value []byte) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf, err := tx.Bucket(dataBucket).CreateBucketIfNotExists(columnFamilyBucketName(key))
		if err != nil {
			return err
		}
		seq, _ := cf.NextSequence()
		return cf.Put(listIndexKey(int64(seq)), value)
	})
}

func listIndexKey(idx int64) []byte {
	buf := make([]byte, 8)
	// offset so negative indices sort before positive ones lexicographically
	u := uint64(idx) ^ (1 << 63)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

// LRange returns the list stored at key, in list order.
func (e *Engine) LRange(key []byte) ([][]byte, error) {
	var out [][]byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		return cf.ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

// LLen returns the length of the list stored at key.
func (e *Engine) LLen(key []byte) (int, error) {
	vals, err := e.LRange(key)
	return len(vals), err
}

// LPop removes and returns the first element of the list stored at key.
func (e *Engine) LPop(key []byte) ([]byte, error) {
	return e.popEnd(key, true)
}

// RPop removes and returns the last element of the list stored at key.
func (e *Engine) RPop(key []byte) ([]byte, error) {
	return e.popEnd(key, false)
}

func (e *Engine) popEnd(key []byte, front bool) ([]byte, error) {
	var out []byte
	err := e.db.Update(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return lasererr.New(lasererr.NotFound, "list not found")
		}
		c := cf.Cursor()
		var k, v []byte
		if front {
			k, v = c.First()
		} else {
			k, v = c.Last()
		}
		if k == nil {
			return lasererr.New(lasererr.NotFound, "list empty")
		}
		out = append([]byte(nil), v...)
		return cf.Delete(k)
	})
	return out, err
}

// ZSet score/member pair.
type ZMember struct {
	Member []byte
	Score  int64
}

// ZAdd sets member's score in the sorted set stored at key, replacing any
// earlier score for that member. Scores are stored as 64-bit integers;
// callers scale float scores by 10000 before calling.
func (e *Engine) ZAdd(key, member []byte, score int64) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf, err := tx.Bucket(dataBucket).CreateBucketIfNotExists(columnFamilyBucketName(key))
		if err != nil {
			return err
		}
		var stale [][]byte
		if err := cf.ForEach(func(k, _ []byte) error {
			if len(k) >= 8 && string(k[8:]) == string(member) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := cf.Delete(k); err != nil {
				return err
			}
		}
		var buf [8]byte
		u := uint64(score) ^ (1 << 63)
		for i := 7; i >= 0; i-- {
			buf[i] = byte(u)
			u >>= 8
		}
		return cf.Put(append(buf[:], member...), nil)
	})
}

// ZRangeByScore returns members with score in [min, max], ordered by score.
func (e *Engine) ZRangeByScore(key []byte, min, max int64) ([]ZMember, error) {
	var out []ZMember
	err := e.db.View(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		return cf.ForEach(func(k, _ []byte) error {
			if len(k) < 8 {
				return nil
			}
			u := uint64(0)
			for _, b := range k[:8] {
				u = u<<8 | uint64(b)
			}
			score := int64(u ^ (1 << 63))
			if score >= min && score <= max {
				out = append(out, ZMember{Member: append([]byte(nil), k[8:]...), Score: score})
			}
			return nil
		})
	})
	return out, err
}

// ZRemRangeByScore removes every member with score in [min, max].
func (e *Engine) ZRemRangeByScore(key []byte, min, max int64) error {
	members, err := e.ZRangeByScore(key, min, max)
	if err != nil {
		return err
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		cf := tx.Bucket(dataBucket).Bucket(columnFamilyBucketName(key))
		if cf == nil {
			return nil
		}
		for _, m := range members {
			var buf [8]byte
			u := uint64(m.Score) ^ (1 << 63)
			for i := 7; i >= 0; i-- {
				buf[i] = byte(u)
				u >>= 8
			}
			if err := cf.Delete(append(buf[:], m.Member...)); err != nil {
				return err
			}
		}
		return nil
	})
}

// IngestBaseSST atomically ingests an immutable sorted file produced by the
// offline batch pipeline. In this engine, "SST" files are themselves bbolt
// files; ingest opens the file read-only and copies its data bucket into
// this engine in one transaction.
func (e *Engine) IngestBaseSST(file string) error {
	return e.ingestFile(file)
}

// IngestDeltaSST atomically ingests a delta file layered on top of the
// current base version. scratchDir is accepted for interface parity with
// real LSM engines that stage files there before ingest; this reference
// engine ingests directly.
func (e *Engine) IngestDeltaSST(file string, scratchDir string) error {
	return e.ingestFile(file)
}

func (e *Engine) ingestFile(file string) error {
	src, err := bbolt.Open(file, 0o600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("engine: open ingest file %s: %w", file, err)
	}
	defer src.Close()

	e.mu.Lock()
	e.writeOps++
	e.mu.Unlock()

	return e.db.Update(func(tx *bbolt.Tx) error {
		dst := tx.Bucket(dataBucket)
		return src.View(func(stx *bbolt.Tx) error {
			srcData := stx.Bucket(dataBucket)
			if srcData == nil {
				return nil
			}
			return srcData.ForEach(func(k, v []byte) error {
				if v == nil {
					return nil // nested bucket; reference engine ingests top-level keys only
				}
				return dst.Put(k, v)
			})
		})
	})
}

// GetProperty reports an engine-level gauge: size (bytes), read-qps and
// write-qps (cumulative read/write operation counts since open). Any other
// name returns an error.
func (e *Engine) GetProperty(name string) (uint64, error) {
	switch name {
	case "size":
		var size uint64
		_ = e.db.View(func(tx *bbolt.Tx) error {
			size = uint64(tx.Size())
			return nil
		})
		return size, nil
	case "read-qps":
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.readOps, nil
	case "write-qps":
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.writeOps, nil
	default:
		return 0, fmt.Errorf("engine: unknown property %q", name)
	}
}

// CategoryPrefix builds an engine key prefix for a category-wide scan, used
// by higher layers that need to enumerate one value category.
func CategoryPrefix(category codec.Category) []byte {
	return codec.CategoryPrefix(category)
}
