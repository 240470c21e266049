// Copyright 2025 Takhin Data, Inc.

package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSourceResolverBaseFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "base", "t", "u", "1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1"), []byte("sst"), 0o644))

	r := &FileSourceResolver{Root: root}

	path, ok := r.BaseFile("t", "u", 1, "v1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "v1"), path)

	_, ok = r.BaseFile("t", "u", 1, "missing")
	require.False(t, ok)
}

func TestFileSourceResolverDeltaFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "delta", "t", "u", "v1", "1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d1"), []byte("sst"), 0o644))

	r := &FileSourceResolver{Root: root}

	path, ok := r.DeltaFile("t", "u", 1, "v1", "d1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "d1"), path)

	_, ok = r.DeltaFile("t", "u", 1, "v2", "d1")
	require.False(t, ok)
}
