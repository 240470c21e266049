// Copyright 2025 Takhin Data, Inc.

package metainfo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetVersionMissing(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.GetVersion(42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetAndGetVersion(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SetVersion(42, "v1"))
	v, ok, err := s.GetVersion(42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestDeltaVersionsRoundTrip(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SetDeltaVersions(7, []string{"d1", "d2", "d3"}))
	got, err := s.GetDeltaVersions(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2", "d3"}, got)
}

func TestDeltaVersionsEmptyClears(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SetDeltaVersions(7, []string{"d1"}))
	require.NoError(t, s.SetDeltaVersions(7, nil))
	got, err := s.GetDeltaVersions(7)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeletePartitionClearsBoth(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SetVersion(1, "v1"))
	require.NoError(t, s.SetDeltaVersions(1, []string{"d1"}))
	require.NoError(t, s.DeletePartition(1))

	_, ok, err := s.GetVersion(1)
	require.NoError(t, err)
	assert.False(t, ok)

	deltas, err := s.GetDeltaVersions(1)
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestNewLeaderVersionIsDefault(t *testing.T) {
	assert.Equal(t, "default", NewLeaderVersion())
}

func TestNewFollowerVersionFormat(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v1, err := NewFollowerVersion(now)
	require.NoError(t, err)
	assert.Contains(t, v1, "20260102030405_")

	v2, err := NewFollowerVersion(now)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2, "random component should differ between calls")
}
