// Copyright 2025 Takhin Data, Inc.

package ingest

import (
	"path/filepath"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/engine"
)

// DefaultOpener opens the bbolt-backed reference engine rooted at
// dataDir/data.db. Tuning options are accepted for interface symmetry with
// engines that support runtime knobs; the reference engine ignores them.
func DefaultOpener(dataDir string, _ config.TuningOptions) (Engine, error) {
	return engine.Open(filepath.Join(dataDir, "data.db"))
}
