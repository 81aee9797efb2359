package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the config file lookup at a fresh directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(ConfigFileEnv, "")
	for _, spec := range getEnvSpecs() {
		t.Setenv(spec.Name, "")
		require.NoError(t, os.Unsetenv(spec.Name))
	}
	return home
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		home := isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, filepath.Join(home, ".psub"), cfg.Paths.Root)
		assert.Equal(t, filepath.Join(home, ".psub", "tmp"), cfg.Paths.Scratch)
		assert.Equal(t, filepath.Join(home, ".psub", "history"), cfg.HistoryDir())

		assert.Equal(t, "intel*", cfg.Resources.Arch)
		assert.Equal(t, "4G", cfg.Resources.Memory)
		assert.Equal(t, "7:59:59", cfg.Resources.Time)
		assert.True(t, cfg.Resources.HighP)
		assert.Equal(t, 1, cfg.Resources.Cores)
		assert.Equal(t, 1, cfg.Resources.BatchSize)

		assert.False(t, cfg.Remote.Enabled())
		assert.Equal(t, "ssh", cfg.Remote.SSHBinary)

		assert.Equal(t, "delete", cfg.Ledger.JournalMode)
		assert.Equal(t, 30*time.Second, cfg.Ledger.BusyTimeout)

		assert.Equal(t, 100, cfg.History.Limit)
		assert.Equal(t, 720*time.Hour, cfg.History.MaxAge)
		assert.Equal(t, 10*time.Second, cfg.Status.WatchInterval)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Profile)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, map[string]any{
			"resources": map[string]any{"memory": "16G", "highp": false},
			"logging":   map[string]any{"level": "DEBUG"},
		})
		require.NoError(t, err)

		assert.Equal(t, "16G", cfg.Resources.Memory)
		assert.False(t, cfg.Resources.HighP)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "7:59:59", cfg.Resources.Time)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		home := isolate(t)
		t.Setenv("PSUB_ROOT", filepath.Join(home, "psub-data"))
		t.Setenv("PSUB_SCRATCH", filepath.Join(home, "scratch"))
		t.Setenv("PSUB_MEMORY", "8G")
		t.Setenv("PSUB_HIGHP", "false")
		t.Setenv("PSUB_BATCH_SIZE", "5")
		t.Setenv("PSUB_REMOTE_HOST", "login.cluster")
		t.Setenv("PSUB_SSH_OPTIONS", "-o,BatchMode=yes")
		t.Setenv("PSUB_BUSY_TIMEOUT", "2m")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(home, "psub-data"), cfg.Paths.Root)
		assert.Equal(t, filepath.Join(home, "scratch"), cfg.Paths.Scratch)
		assert.Equal(t, "8G", cfg.Resources.Memory)
		assert.False(t, cfg.Resources.HighP)
		assert.Equal(t, 5, cfg.Resources.BatchSize)
		assert.True(t, cfg.Remote.Enabled())
		assert.Equal(t, []string{"-o", "BatchMode=yes"}, cfg.Remote.SSHOptions)
		assert.Equal(t, 2*time.Minute, cfg.Ledger.BusyTimeout)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("PSUB_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)

		cfg, err = Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4000, cfg.Server.Port)
	})

	t.Run("ConfigFileUnderRoot", func(t *testing.T) {
		home := isolate(t)
		root := filepath.Join(home, ".psub")
		require.NoError(t, os.MkdirAll(root, 0755))
		require.NoError(t, os.WriteFile(ConfigFilePath(root), []byte(strings.Join([]string{
			"resources:",
			"  arch: amd*",
			"  cores: 4",
			"runner:",
			"  setup:",
			"    - module load python",
			"history:",
			"  limit: 10",
		}, "\n")), 0644))
		t.Setenv("PSUB_CORES", "2")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "amd*", cfg.Resources.Arch)
		assert.Equal(t, 2, cfg.Resources.Cores, "env wins over file")
		assert.Equal(t, []string{"module load python"}, cfg.Runner.Setup)
		assert.Equal(t, 10, cfg.History.Limit)
	})

	t.Run("ExplicitConfigFileMissing", func(t *testing.T) {
		home := isolate(t)
		t.Setenv(ConfigFileEnv, filepath.Join(home, "nope.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("ConfigFileOverride", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "site.yaml")
		require.NoError(t, os.WriteFile(path, []byte("history:\n  limit: 7\n"), 0644))
		t.Setenv(ConfigFileEnv, filepath.Join(home, "ignored.yaml"))

		cfg, err := Load(ctx, map[string]any{ConfigFileKey: path})
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.History.Limit)
	})

	t.Run("TildeRoot", func(t *testing.T) {
		home := isolate(t)
		cfg, err := Load(ctx, map[string]any{"paths": map[string]any{"root": "~/work/psub"}})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "work", "psub"), cfg.Paths.Root)
	})

	t.Run("InvalidPort", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"server": map[string]any{"port": 70000}})
		require.Error(t, err)
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"server": map[string]any{"port": 9123}})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Server.Port, current.Server.Port)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		assert.True(t, strings.HasPrefix(spec.Name, EnvPrefix), spec.Name)
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = true
	}
	assert.True(t, names["PSUB_ROOT"])
	assert.True(t, names["PSUB_LOG_LEVEL"])
	assert.True(t, names["PSUB_REMOTE_HOST"])
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": map[string]any{"e": true}},
	})
	assert.Equal(t, map[string]any{"a": 1, "b.c": "x", "b.d.e": true}, got)
}
