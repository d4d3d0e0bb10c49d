package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yourusername/cellrate/control"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, uint32(10), cfg.Policy.Rate)
	assert.Equal(t, time.Second, cfg.Policy.Period)
	assert.Equal(t, uint32(100), cfg.Policy.Burst())
	assert.Equal(t, time.Hour, cfg.CleanupAge)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, control.DefaultChannel, cfg.Redis.Channel)
}

func TestLoadConfig_Environment(t *testing.T) {
	cfg, err := loadConfig(envOf(map[string]string{
		"PORT":           "9090",
		"GCR_RATE":       "20",
		"GCR_PERIOD":     "2s",
		"GCR_MAX_BURST":  "0",
		"CLEANUP_AGE":    "5m",
		"LOG_LEVEL":      "debug",
		"REDIS_ADDR":     "redis:6379",
		"REDIS_PASSWORD": "secret",
		"REDIS_CHANNEL":  "limits",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, uint32(20), cfg.Policy.Rate)
	assert.Equal(t, 2*time.Second, cfg.Policy.Period)
	assert.Equal(t, uint32(0), cfg.Policy.Burst())
	assert.Equal(t, 5*time.Minute, cfg.CleanupAge)
	assert.Equal(t, 5*time.Minute, cfg.Limits.CleanupAge)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, control.Config{Addr: "redis:6379", Password: "secret", Channel: "limits"}, cfg.Redis)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  rate: 5
  period: 1m
  max_burst: 10
policies:
  "/demo/login":
    rate: 1
    period: 1m
cleanup_age: 10m
`), 0o644))

	cfg, err := loadConfig(envOf(map[string]string{
		"CONFIG_FILE": path,
		"GCR_RATE":    "6",
	}))
	require.NoError(t, err)

	assert.Equal(t, uint32(6), cfg.Policy.Rate)
	assert.Equal(t, time.Minute, cfg.Policy.Period)
	assert.Equal(t, uint32(10), cfg.Policy.Burst())
	assert.Equal(t, 10*time.Minute, cfg.CleanupAge)
	assert.Contains(t, cfg.Limits.Policies, "/demo/login")
	assert.Equal(t, uint32(6), cfg.Limits.Defaults.Rate)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad rate", env: map[string]string{"GCR_RATE": "ten"}},
		{name: "zero rate", env: map[string]string{"GCR_RATE": "0"}},
		{name: "bad period", env: map[string]string{"GCR_PERIOD": "soon"}},
		{name: "bad burst", env: map[string]string{"GCR_MAX_BURST": "-1"}},
		{name: "negative cleanup", env: map[string]string{"CLEANUP_AGE": "-1m"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "chatty"}},
		{name: "missing file", env: map[string]string{"CONFIG_FILE": "/nonexistent/cellrate.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(envOf(tt.env))
			assert.Error(t, err)
		})
	}
}
