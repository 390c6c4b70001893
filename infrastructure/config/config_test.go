package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"canvassync/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.DomainRules().MaxHistoryEntries)
	assert.Equal(t, 15*time.Second, cfg.DomainRules().WorkspaceFreshness)
}

func TestLoadFrom_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvassync.yaml")
	writeFile(t, path, `
log_level: debug
backend_url: http://backend.test:9000
storage:
  backend: redis
  redis_url: redis://localhost:6379/0
cache:
  workspace_freshness: 1m
  history_entries: 20
`)
	t.Setenv("BACKEND_URL", "http://override.test")
	t.Setenv("LIST_FRESHNESS", "250ms")

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://override.test", cfg.BackendURL)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "canvassync:", cfg.Storage.RedisPrefix, "keys missing from the file keep their defaults")

	rules := cfg.DomainRules()
	assert.Equal(t, time.Minute, rules.WorkspaceFreshness)
	assert.Equal(t, 250*time.Millisecond, rules.ListFreshness)
	assert.Equal(t, 20, rules.MaxHistoryEntries)
}

func TestLoadFrom_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvassync.yaml")
	writeFile(t, path, "listen_adress: :9090\n")

	_, err := config.LoadFrom(path)
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*config.Config) {}},
		{
			name:    "unknown storage backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "floppy" },
			wantErr: true,
		},
		{
			name:    "redis without url",
			mutate:  func(c *config.Config) { c.Storage.Backend = "redis" },
			wantErr: true,
		},
		{
			name: "dynamodb with table",
			mutate: func(c *config.Config) {
				c.Storage.Backend = "dynamodb"
				c.Storage.DynamoDBTable = "canvas-cache"
			},
		},
		{
			name:    "invalid backend url",
			mutate:  func(c *config.Config) { c.BackendURL = "not a url" },
			wantErr: true,
		},
		{
			name: "memory storage in production",
			mutate: func(c *config.Config) {
				c.Environment = "production"
				c.Storage.Backend = "memory"
			},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *config.Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := config.ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = config.ParseLevel("loud")
	assert.Error(t, err)
}

func TestWatcher_ReloadsLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvassync.yaml")
	writeFile(t, path, "log_level: info\n")

	initial, err := config.LoadFrom(path)
	require.NoError(t, err)

	w, err := config.NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	var reloads atomic.Int32
	w.OnChange(func(*config.Config) { reloads.Add(1) })
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	w.BindLevel(level)

	writeFile(t, path, "log_level: debug\n")

	require.Eventually(t, func() bool {
		return level.Level() == zapcore.DebugLevel
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "debug", w.Current().LogLevel)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvassync.yaml")
	writeFile(t, path, "log_level: warn\n")

	initial, err := config.LoadFrom(path)
	require.NoError(t, err)

	w, err := config.NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	writeFile(t, path, "log_level: shouting\n")
	time.Sleep(time.Second)

	assert.Equal(t, "warn", w.Current().LogLevel)
}
