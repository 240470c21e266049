// Copyright 2025 Takhin Data, Inc.

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name        string
		category    Category
		primaryKeys [][]byte
		columnKeys  [][]byte
	}{
		{"raw string, no column keys", RawString, [][]byte{[]byte("user:42")}, nil},
		{"map data with column keys", MapData, [][]byte{[]byte("db"), []byte("tbl"), []byte("42")}, [][]byte{[]byte("field1")}},
		{"multi-component column keys", ZSetData, [][]byte{[]byte("leaderboard")}, [][]byte{[]byte("score"), []byte("member")}},
		{"empty primary key component", Counter, [][]byte{[]byte("")}, nil},
		{"length-1 primary component, no columns", RawString, [][]byte{{0x2a}}, nil},
		{"length-1 primary component with columns", MapData, [][]byte{{0x2a}}, [][]byte{[]byte("field1")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.category, tc.primaryKeys, tc.columnKeys)
			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.category, decoded.Category)
		})
	}
}

func TestEncodeIsCategoryPrefixed(t *testing.T) {
	key := Encode(SetData, [][]byte{[]byte("k")}, nil)
	require.True(t, len(key) > 0)
	assert.Equal(t, byte(SetData), key[0])
	assert.Equal(t, CategoryPrefix(SetData), key[:1])
}

func TestEncodeOrdersByPrimaryKeyWithinCategory(t *testing.T) {
	a := Encode(RawString, [][]byte{[]byte("alpha")}, nil)
	b := Encode(RawString, [][]byte{[]byte("beta")}, nil)
	assert.Less(t, string(a), string(b))
}

func TestEncodeDifferentCategoriesDoNotOverlap(t *testing.T) {
	raw := Encode(RawString, [][]byte{[]byte("x")}, nil)
	counter := Encode(Counter, [][]byte{[]byte("x")}, nil)
	assert.NotEqual(t, raw[0], counter[0])
}

func TestEncodeDistinguishesPrimaryColumnBoundary(t *testing.T) {
	// Same overall bytes could in principle arise from two different splits
	// between primary and column components; distinct declared splits must
	// still encode to distinct byte strings.
	onePrimary := Encode(MapData, [][]byte{[]byte("ab"), []byte("cd")}, nil)
	splitDifferently := Encode(MapData, [][]byte{[]byte("ab")}, [][]byte{[]byte("cd")})
	assert.NotEqual(t, onePrimary, splitDifferently)
}

func TestKeyHashStableAcrossCalls(t *testing.T) {
	primaryKeys := [][]byte{[]byte("db"), []byte("users"), []byte("42")}
	h1 := KeyHash(primaryKeys)
	h2 := KeyHash(primaryKeys)
	assert.Equal(t, h1, h2)
}

func TestKeyHashDiffersForDifferentKeys(t *testing.T) {
	h1 := KeyHash([][]byte{[]byte("a")})
	h2 := KeyHash([][]byte{[]byte("b")})
	assert.NotEqual(t, h1, h2)
}

func TestHashStringFoldsPriorHash(t *testing.T) {
	h1 := HashString("table", 0)
	h2 := HashString("table", 1)
	assert.NotEqual(t, h1, h2)
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

// A length-1 primary component's 4-byte length prefix (0x00 0x00 0x00
// 0x01) ends with the same two bytes as separator; Decode must not
// mistake that for a primary/column boundary.
func TestDecodeHandlesLengthOneComponentCollidingWithSeparator(t *testing.T) {
	encoded := Encode(RawString, [][]byte{{0x2a}}, nil)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, RawString, decoded.Category)

	var want bytes.Buffer
	writeComponents(&want, [][]byte{{0x2a}})
	assert.Equal(t, want.Bytes(), decoded.PrimaryKeys)
	assert.Empty(t, decoded.ColumnKeys)
}

func TestDecodeSplitsPrimaryAndColumnsWhenPrimaryEndsInLengthOneComponent(t *testing.T) {
	encoded := Encode(MapData, [][]byte{{0x2a}}, [][]byte{[]byte("field1")})
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	var wantPrimary, wantColumns bytes.Buffer
	writeComponents(&wantPrimary, [][]byte{{0x2a}})
	writeComponents(&wantColumns, [][]byte{[]byte("field1")})

	assert.Equal(t, wantPrimary.Bytes(), decoded.PrimaryKeys)
	assert.Equal(t, wantColumns.Bytes(), decoded.ColumnKeys)
}
