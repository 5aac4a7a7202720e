package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/types"
)

func TestConfigDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(configJSONEnv, "")

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.True(t, cfg.IsLocalMode())
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, 3, cfg.Scheduler.Concurrency)
	assert.Equal(t, 4, cfg.Scheduler.InlineThreshold)
	assert.Equal(t, time.Second, cfg.Scheduler.BaseGroupDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.BaseItemDelay)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Queue.RateLimitMinDelay)
	assert.Equal(t, 30000, cfg.Synopsis.MaxInputTokens)
	assert.Equal(t, int64(50), cfg.Mailbox.DefaultPageSize)
}

func TestConfigJSONOverride(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(configJSONEnv, `{"scheduler":{"concurrency":7,"maxGroupDelay":"90s"},"queue":{"capacity":10}}`)

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.Equal(t, 7, cfg.Scheduler.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.MaxGroupDelay)
	assert.Equal(t, 10, cfg.Queue.Capacity)
	assert.Equal(t, 4, cfg.Scheduler.InlineThreshold)
}

func TestConfigFileThenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  capacity: 20\n  batchSize: 9\n"), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(configJSONEnv, `{"queue":{"capacity":30}}`)

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.Equal(t, 30, cfg.Queue.Capacity)
	assert.Equal(t, 9, cfg.Queue.BatchSize)
}

func TestConfigBadJSON(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(configJSONEnv, `{not json`)

	_, err := NewConfigManager[types.AppConfig]()
	assert.Error(t, err)
}
