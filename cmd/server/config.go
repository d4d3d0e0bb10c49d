package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/yourusername/cellrate/control"
	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/pkg/cellrate"
)

// serverConfig is everything main needs, resolved from the environment and
// the optional YAML file named by CONFIG_FILE.
type serverConfig struct {
	Port       string
	Policy     core.Policy
	CleanupAge time.Duration
	LogLevel   zapcore.Level

	// Per-route policies for /demo, from CONFIG_FILE
	Limits *cellrate.Config

	Redis control.Config // Redis.Addr empty means no control bus
}

// loadConfig resolves settings; environment variables win over the file
func loadConfig(getenv func(string) string) (*serverConfig, error) {
	env := func(key, fallback string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return fallback
	}

	limits := cellrate.NewConfig()
	if path := getenv("CONFIG_FILE"); path != "" {
		loaded, err := cellrate.LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		limits = loaded
	}

	cfg := &serverConfig{
		Port:   env("PORT", "8080"),
		Limits: limits,
		Redis: control.Config{
			Addr:     getenv("REDIS_ADDR"),
			Password: getenv("REDIS_PASSWORD"),
			Channel:  env("REDIS_CHANNEL", control.DefaultChannel),
		},
	}

	defaults := limits.Defaults
	if value := getenv("GCR_RATE"); value != "" {
		rate, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid GCR_RATE %q: %w", value, err)
		}
		defaults.Rate = uint32(rate)
	}
	if value := getenv("GCR_PERIOD"); value != "" {
		period, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid GCR_PERIOD %q: %w", value, err)
		}
		defaults.Period = period
	}
	if value := getenv("GCR_MAX_BURST"); value != "" {
		burst, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid GCR_MAX_BURST %q: %w", value, err)
		}
		defaults.MaxBurst = core.Burst(uint32(burst))
	}
	if err := limits.SetPolicy("", defaults); err != nil {
		return nil, err
	}
	cfg.Policy = defaults.ToPolicy()

	cfg.CleanupAge = limits.CleanupAge
	if value := getenv("CLEANUP_AGE"); value != "" {
		age, err := time.ParseDuration(value)
		if err != nil || age < 0 {
			return nil, fmt.Errorf("invalid CLEANUP_AGE %q", value)
		}
		cfg.CleanupAge = age
		limits.CleanupAge = age
	}

	level, err := zapcore.ParseLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func osConfig() (*serverConfig, error) {
	return loadConfig(os.Getenv)
}
