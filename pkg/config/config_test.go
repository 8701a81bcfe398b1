package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
sqlite:
  path: data/test.db
model:
  version: demo-v1
  elasticity: -5.0
  grid_min: 270000
  grid_max: 279000
  grid_step: 1000
  default_cost: 271000
anomaly:
  price_crash_threshold: 0.15
  undercut_margin: 0.05
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 30, cfg.Pipeline.HistoryWindow)
	assert.Equal(t, 2, cfg.Pipeline.MinHistory)
	assert.Equal(t, 5, cfg.Pipeline.TopN)
	assert.Equal(t, 3, cfg.Pipeline.RetryMax)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.BackoffMin)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.BackoffMax)
	assert.Equal(t, "pricepulse:runs", cfg.Redis.RunQueue)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.Spec)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing environment", `
sqlite: {path: x.db}
model: {version: v1, grid_step: 1, default_cost: 10}
`},
		{"missing sqlite path", `
environment: test
model: {version: v1, grid_step: 1, default_cost: 10}
`},
		{"zero grid step", `
environment: test
sqlite: {path: x.db}
model: {version: v1, grid_step: 0, default_cost: 10}
`},
		{"inverted grid bounds", `
environment: test
sqlite: {path: x.db}
model: {version: v1, grid_min: 200, grid_max: 100, grid_step: 1, default_cost: 10}
`},
		{"crash threshold out of range", `
environment: test
sqlite: {path: x.db}
model: {version: v1, grid_step: 1, default_cost: 10}
anomaly: {price_crash_threshold: 1.5}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("KAFKA_SNAPSHOT_TOPIC", "snapshots.override")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "snapshots.override", cfg.Kafka.SnapshotTopic)
	assert.Equal(t, "/tmp/override.db", cfg.SQLite.Path)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
