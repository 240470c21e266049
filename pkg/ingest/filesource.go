// Copyright 2025 Takhin Data, Inc.

package ingest

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSourceResolver locates base/delta files the batch-file monitor has
// already dropped under a distributed filesystem mount, laid out per
// the design:
//
//	source_data/base/<db>/<table>/<partition>/<version>
//	source_data/delta/<db>/<table>/<base_version>/<partition>/<version>
//
// The batch-file monitor itself (the poller that discovers new
// artifacts and calls LoadBase/LoadDelta) is out of this module's scope
// here; this resolver is the read-side half the ingest controller
// needs regardless of what drives the poll.
type FileSourceResolver struct {
	Root string // laser_hdfs_data_dir
}

var _ SourceResolver = (*FileSourceResolver)(nil)

// BaseFile implements SourceResolver.
func (f *FileSourceResolver) BaseFile(db, table string, partitionID uint32, version string) (string, bool) {
	path := filepath.Join(f.Root, "base", db, table, fmt.Sprintf("%d", partitionID), version)
	return existingFile(path)
}

// DeltaFile implements SourceResolver.
func (f *FileSourceResolver) DeltaFile(db, table string, partitionID uint32, baseVersion, version string) (string, bool) {
	path := filepath.Join(f.Root, "delta", db, table, baseVersion, fmt.Sprintf("%d", partitionID), version)
	return existingFile(path)
}

func existingFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
