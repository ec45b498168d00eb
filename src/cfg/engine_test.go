package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Environment)
	assert.Equal(t, 1024, cfg.LogRecentSlots)
	assert.Equal(t, 10*time.Millisecond, cfg.LogWriterTimeout)
	assert.Equal(t, 50*time.Second, cfg.LockWaitTimeout)
	assert.Equal(t, uint64(512), cfg.LogNotifyGranule)
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := "ENVIRONMENT=prod\nPURGE_THREADS=8\nCHECKPOINT_EVERY=250ms\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	t.Setenv("ENGINE_PURGE_THREADS", "2")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, EnvProd, cfg.Environment)
	assert.Equal(t, 2, cfg.PurgeThreads)
	assert.Equal(t, 250*time.Millisecond, cfg.CheckpointEvery)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("ENGINE_ENVIRONMENT", "staging")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	broken := cfg
	broken.PageCleaners = 0
	require.ErrorContains(t, broken.Validate(), "PAGE_CLEANERS")

	broken = cfg
	broken.MasterInterval = 0
	require.ErrorContains(t, broken.Validate(), "MASTER_INTERVAL")

	broken = cfg
	broken.LRUFreeTarget = broken.BufferPoolSize + 1
	require.ErrorContains(t, broken.Validate(), "LRU_FREE_TARGET")
}
