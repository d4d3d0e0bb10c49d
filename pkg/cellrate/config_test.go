package cellrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/cellrate/core"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	require.NotNil(t, config)
	assert.Equal(t, uint32(10), config.Defaults.Rate)
	assert.Equal(t, time.Second, config.Defaults.Period)
	assert.Equal(t, uint32(100), config.Defaults.ToPolicy().Burst())
	assert.True(t, config.Defaults.IsEnabled())
	assert.Equal(t, "ip", config.KeyExtractor)
	assert.Equal(t, time.Hour, config.CleanupAge)
	assert.NotNil(t, config.Policies)
	assert.NoError(t, config.Validate())
}

func TestPolicyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  PolicyConfig
		wantErr bool
	}{
		{name: "valid", policy: PolicyConfig{Rate: 10, Period: time.Second}},
		{name: "explicit burst", policy: PolicyConfig{Rate: 10, Period: time.Second, MaxBurst: core.Burst(50)}},
		{name: "zero burst", policy: PolicyConfig{Rate: 10, Period: time.Second, MaxBurst: core.Burst(0)}},
		{name: "zero rate", policy: PolicyConfig{Rate: 0, Period: time.Second}, wantErr: true},
		{name: "zero period", policy: PolicyConfig{Rate: 10}, wantErr: true},
		{name: "negative period", policy: PolicyConfig{Rate: 10, Period: -time.Second}, wantErr: true},
		{name: "rate finer than a nanosecond", policy: PolicyConfig{Rate: 1000, Period: time.Nanosecond}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrParametersOutOfRange)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicyConfig_IsEnabled(t *testing.T) {
	on, off := true, false

	assert.True(t, PolicyConfig{}.IsEnabled())
	assert.True(t, PolicyConfig{Enabled: &on}.IsEnabled())
	assert.False(t, PolicyConfig{Enabled: &off}.IsEnabled())
}

func TestConfig_GetAndSetPolicy(t *testing.T) {
	config := NewConfig()
	login := PolicyConfig{Rate: 5, Period: time.Minute}

	require.NoError(t, config.SetPolicy("/login", login))
	assert.Equal(t, login, config.GetPolicy("/login"))
	assert.Equal(t, config.Defaults, config.GetPolicy("/other"))

	err := config.SetPolicy("/bad", PolicyConfig{Rate: 0, Period: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, exists := config.Policies["/bad"]
	assert.False(t, exists)

	require.NoError(t, config.SetPolicy("", login))
	assert.Equal(t, login, config.Defaults)
}

func TestConfig_SetPolicyNilMap(t *testing.T) {
	config := &Config{Defaults: PolicyConfig{Rate: 1, Period: time.Second}}
	require.NoError(t, config.SetPolicy("/x", PolicyConfig{Rate: 2, Period: time.Second}))
	assert.Len(t, config.Policies, 1)
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
defaults:
  rate: 20
  period: 1s
  max_burst: 60

policies:
  "/api/login":
    rate: 5
    period: 1m
  "/healthz":
    rate: 1
    period: 1s
    enabled: false

key_extractor: "header:X-API-Key"
cleanup_age: 30m
`))
	require.NoError(t, err)

	assert.Equal(t, uint32(20), config.Defaults.Rate)
	assert.Equal(t, uint32(60), config.Defaults.ToPolicy().Burst())

	login := config.GetPolicy("/api/login")
	assert.Equal(t, time.Minute, login.Period)
	assert.Equal(t, uint32(5), login.ToPolicy().Burst(), "burst defaults to rate")
	assert.True(t, login.IsEnabled())
	assert.False(t, config.GetPolicy("/healthz").IsEnabled())

	assert.Equal(t, "header:X-API-Key", config.KeyExtractor)
	assert.Equal(t, 30*time.Minute, config.CleanupAge)
}

func TestParseConfig_KeepsDefaultsForMissingFields(t *testing.T) {
	config, err := ParseConfig([]byte("cleanup_age: 5m\n"))
	require.NoError(t, err)

	assert.Equal(t, NewConfig().Defaults.Rate, config.Defaults.Rate)
	assert.Equal(t, "ip", config.KeyExtractor)
	assert.NotNil(t, config.Policies)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed yaml", yaml: "defaults: [1, 2"},
		{name: "bad period", yaml: "defaults:\n  rate: 1\n  period: soon\n"},
		{name: "zero rate", yaml: "defaults:\n  rate: 0\n  period: 1s\n"},
		{name: "bad route", yaml: "policies:\n  /x:\n    rate: 1\n"},
		{name: "unknown extractor", yaml: "key_extractor: fingerprint\n"},
		{name: "negative cleanup", yaml: "cleanup_age: -1m\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  rate: 3\n  period: 1s\n"), 0o644))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), config.Defaults.Rate)

	_, err = LoadConfigFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	config := NewConfig()
	require.NoError(t, config.SetPolicy("/a", PolicyConfig{Rate: 1, Period: time.Second}))

	cp := config.clone()
	require.NoError(t, cp.SetPolicy("/b", PolicyConfig{Rate: 2, Period: time.Second}))

	assert.Len(t, config.Policies, 1)
	assert.Len(t, cp.Policies, 2)
}
