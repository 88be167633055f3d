package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "local", cfg.Broadcast.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Learning.TimeoutThreshold)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8087", cfg.Server.Addr)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crewmesh.yaml")
	data := `
server:
  addr: ":9001"
broadcast:
  backend: nats
  nats_url: "nats://nats:4222"
learning:
  trend_window: 50
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Server.Addr)
	assert.Equal(t, "nats", cfg.Broadcast.Backend)
	assert.Equal(t, "nats://nats:4222", cfg.Broadcast.NATSURL)
	assert.Equal(t, 50, cfg.Learning.TrendWindow)
	// Untouched sections keep defaults.
	assert.Equal(t, "sqlite", cfg.Database.Type)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CREWMESH_ADDR", ":7000")
	t.Setenv("CREWMESH_BROADCAST_BACKEND", "redis")
	t.Setenv("CREWMESH_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Broadcast.Backend)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad db type", func(c *Config) { c.Database.Type = "mongo" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Type = "postgres"; c.Database.DSN = "" }},
		{"bad broadcast backend", func(c *Config) { c.Broadcast.Backend = "carrier-pigeon" }},
		{"zero trend window", func(c *Config) { c.Learning.TrendWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWatch_ReloadsLearningSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crewmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learning:\n  trend_window: 10\n"), 0644))

	changed := make(chan LearningConfig, 1)
	stop, err := Watch(path, func(lc LearningConfig) {
		select {
		case changed <- lc:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("learning:\n  trend_window: 33\n"), 0644))

	select {
	case lc := <-changed:
		assert.Equal(t, 33, lc.TrendWindow)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
