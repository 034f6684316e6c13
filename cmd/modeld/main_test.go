package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(&options{})
	require.NoError(t, err)
	assert.Equal(t, "synthetic", cfg.GetEngineBackend())
	assert.Equal(t, "modeld.db", cfg.GetDBPath())
	assert.Equal(t, "info", cfg.LogConfig().Level)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modeld.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: localhost:9000\ndb_path: file.db\nsync_window: 30ms\n"), 0o644))

	t.Setenv("MODELD_DB_PATH", "env.db")
	t.Setenv("MODELD_SYNC_WINDOW", "40ms")

	cfg, err := loadConfig(&options{ConfigPath: path, DBPath: "flag.db", LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.GetDBPath())
	assert.Equal(t, "localhost:9000", cfg.GetListen())
	assert.Equal(t, "40ms", cfg.GetSyncWindow().String())
	assert.Equal(t, "debug", cfg.LogConfig().Level)
}

func TestLoadConfigDemoKeepsExplicitValues(t *testing.T) {
	cfg, err := loadConfig(&options{Demo: true, DBPath: "mine.db"})
	require.NoError(t, err)
	assert.Equal(t, "mine.db", cfg.GetDBPath())
	assert.InDelta(t, 0.02, cfg.GetCameraDropProbability(), 1e-9)
	assert.True(t, cfg.Flags().SendRawPred)
}

func TestLoadConfigRejects(t *testing.T) {
	_, err := loadConfig(&options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	t.Setenv("MODELD_ENGINE_BACKEND", "gpu")
	_, err = loadConfig(&options{})
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--demo", "--listen", ":1234", "-c", "x.yaml", "--grpc-listen", ":50051"}))
	assert.True(t, opts.Demo)
	assert.Equal(t, ":1234", opts.Listen)
	assert.Equal(t, "x.yaml", opts.ConfigPath)
	assert.Equal(t, ":50051", opts.GRPCListen)
}
