// Copyright 2025 Takhin Data, Inc.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "laser.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9190\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 10, cfg.Replication.LoadQueueCapacity)
	assert.Equal(t, 4, cfg.RPC.MaxConnPerServer)
}

func TestLoadParsesSchema(t *testing.T) {
	path := writeConfig(t, `
configstore:
  schema:
    databases:
      - name: social
        tables:
          - name: users
            partition.number: 16
            edge.flow.ratio: 20
            tuning.profile: default
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.ConfigStore.Schema.Databases, 1)
	tbl := cfg.ConfigStore.Schema.Databases[0].Tables[0]
	assert.Equal(t, uint32(16), tbl.PartitionNumber)
	assert.Equal(t, 20, tbl.EdgeFlowRatio)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 70000\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsZeroPartitionNumber(t *testing.T) {
	path := writeConfig(t, `
configstore:
  schema:
    databases:
      - name: social
        tables:
          - name: users
            partition.number: 0
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsTLSWithoutCertFile(t *testing.T) {
	path := writeConfig(t, "server:\n  tls:\n    enabled: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}
