package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()

	dir := t.TempDir()
	content := "DATA_DIR=" + dataDir + "\n" +
		"BUFFER_POOL_SIZE=16\n" +
		"LRU_FREE_TARGET=4\n" +
		"PURGE_THREADS=1\n" +
		"PAGE_CLEANERS=1\n" +
		"LRU_MANAGERS=1\n" +
		"SHUTDOWN_GRACE=5s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	return dir
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	env, err := loadEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9100", env.MetricsAddr)
	assert.Equal(t, "engine.lock", env.LockFile)
}

func TestEntrypointLocksDataDir(t *testing.T) {
	t.Chdir(t.TempDir())

	dataDir := filepath.Join(t.TempDir(), "data")
	configPath := writeConfig(t, dataDir)
	ctx := context.Background()

	first := &EngineEntrypoint{ConfigPath: configPath}
	require.NoError(t, first.Init(ctx))

	lsn, err := first.server.Redo().Append([]byte("record"))
	require.NoError(t, err)
	require.NoError(t, first.server.Redo().WaitForFlush(ctx, lsn))

	second := &EngineEntrypoint{ConfigPath: configPath}
	require.ErrorContains(t, second.Init(ctx), "used by another process")
	_ = second.Close()

	_ = first.Close()

	third := &EngineEntrypoint{ConfigPath: configPath}
	require.NoError(t, third.Init(ctx))
	defer func() { _ = third.Close() }()

	assert.Equal(t, common.LSN(len("record")), third.server.Redo().Current())
}
