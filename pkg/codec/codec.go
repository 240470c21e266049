// Copyright 2025 Takhin Data, Inc.

// Package codec implements Laser's logical-key encoding:
// turning a (category, primary keys, column keys) tuple into an ordered
// byte string suitable for storage in the partition engine.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Category tags the kind of value a key addresses. It is encoded as the
// first byte of the key so that scanning one category is a prefix scan.
type Category byte

const (
	RawString Category = iota + 1
	Counter
	MapMeta
	MapData
	ListMeta
	ListData
	SetMeta
	SetData
	ZSetMeta
	ZSetData
)

func (c Category) String() string {
	switch c {
	case RawString:
		return "RAW_STRING"
	case Counter:
		return "COUNTER"
	case MapMeta:
		return "MAP_META"
	case MapData:
		return "MAP_DATA"
	case ListMeta:
		return "LIST_META"
	case ListData:
		return "LIST_DATA"
	case SetMeta:
		return "SET_META"
	case SetData:
		return "SET_DATA"
	case ZSetMeta:
		return "ZSET_META"
	case ZSetData:
		return "ZSET_DATA"
	default:
		return fmt.Sprintf("CATEGORY(%d)", byte(c))
	}
}

// separator delimits primary-key components from column-key components on
// the wire: a two-byte (0x00, 0x01) marker written between the two
// sections when column keys are present. A length-1 component's own
// 4-byte big-endian length prefix (0x00 0x00 0x00 0x01) ends in the same
// two bytes, so Decode cannot tell the two apart by scanning for the
// marker — it has to walk the length-prefixed components instead and only
// treat a 0x00 0x01 pair as the separator when it falls at a genuine
// component boundary and the bytes after it parse as a clean run of
// length-prefixed components with nothing left over.
var separator = []byte{0x00, 0x01}

// Key is a decoded logical key.
type Key struct {
	Category   Category
	PrimaryKeys []byte
	ColumnKeys  []byte
}

// Encode produces the ordered byte-string form of a logical key. Primary
// key components are length-prefixed and concatenated in declared order;
// column-key components, if any, follow the two-byte separator, which
// Decode tells apart from primary-key bytes by walking component
// boundaries (see separator).
//
// Sort order over the encoded form groups, within one category's prefix
// scan range, all entries sharing the same primary-key components
// together — satisfying §4.1's requirement that iterating one category is
// a contiguous range and that a given record's entries within that
// category sort adjacently.
func Encode(category Category, primaryKeys, columnKeys [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(category))
	writeComponents(&buf, primaryKeys)
	if len(columnKeys) > 0 {
		buf.Write(separator)
		writeComponents(&buf, columnKeys)
	}
	return buf.Bytes()
}

func writeComponents(buf *bytes.Buffer, components [][]byte) {
	var lenPrefix [4]byte
	for _, c := range components {
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(c)))
		buf.Write(lenPrefix[:])
		buf.Write(c)
	}
}

// Decode parses an encoded key back into its category and raw
// (still length-prefixed) primary/column segments. It is mainly used by
// tests and by category prefix-scan helpers that need to strip the tag.
//
// It walks primary-key components one length-prefix at a time rather than
// scanning for separator, since a length-1 component's 4-byte length
// prefix (0x00 0x00 0x00 0x01) ends with the same two bytes as separator
// and a raw byte scan would split there by mistake.
func Decode(encoded []byte) (Key, error) {
	if len(encoded) < 1 {
		return Key{}, fmt.Errorf("codec: encoded key too short")
	}
	category := Category(encoded[0])
	rest := encoded[1:]

	pos := 0
	for pos < len(rest) {
		if pos+len(separator) <= len(rest) && bytes.Equal(rest[pos:pos+len(separator)], separator) {
			if isComponentRun(rest[pos+len(separator):]) {
				return Key{
					Category:    category,
					PrimaryKeys: rest[:pos],
					ColumnKeys:  rest[pos+len(separator):],
				}, nil
			}
		}

		next, err := skipComponent(rest, pos)
		if err != nil {
			return Key{}, err
		}
		pos = next
	}

	return Key{Category: category, PrimaryKeys: rest}, nil
}

// skipComponent advances past the length-prefixed component starting at
// pos and returns the offset immediately after it.
func skipComponent(b []byte, pos int) (int, error) {
	if pos+4 > len(b) {
		return 0, fmt.Errorf("codec: truncated length prefix at offset %d", pos)
	}
	clen := int(binary.BigEndian.Uint32(b[pos : pos+4]))
	pos += 4
	if pos+clen > len(b) {
		return 0, fmt.Errorf("codec: truncated component at offset %d", pos)
	}
	return pos + clen, nil
}

// isComponentRun reports whether b parses as zero or more length-prefixed
// components with no trailing bytes left over.
func isComponentRun(b []byte) bool {
	pos := 0
	for pos < len(b) {
		next, err := skipComponent(b, pos)
		if err != nil {
			return false
		}
		pos = next
	}
	return true
}

// CategoryPrefix returns the single-byte prefix that bounds a prefix scan
// over all keys of the given category.
func CategoryPrefix(category Category) []byte {
	return []byte{byte(category)}
}

// KeyHash computes the stable 64-bit hash of an ordered sequence of
// primary-key components: H(primary_keys). xxhash is
// deterministic across processes given the same input, satisfying the
// "stable across processes" requirement without a fixed-seed workaround.
func KeyHash(primaryKeys [][]byte) uint64 {
	h := xxhash.New()
	var lenPrefix [4]byte
	for _, c := range primaryKeys {
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(c)))
		h.Write(lenPrefix[:])
		h.Write(c)
	}
	return h.Sum64()
}

// HashString hashes an arbitrary string the same way PartitionMap hashes
// database/table names when folding them into partition and shard ids
// H(name, priorHash).
func HashString(name string, prior uint64) uint64 {
	h := xxhash.New()
	var priorBuf [8]byte
	binary.BigEndian.PutUint64(priorBuf[:], prior)
	h.Write(priorBuf[:])
	h.WriteString(name)
	return h.Sum64()
}
