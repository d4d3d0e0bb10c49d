package cellrate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/cellrate/core"
)

// Config holds the rate limiting configuration.
// Routes listed under Policies get limiters of their own; every other route
// shares the limiters built from Defaults.
type Config struct {
	Defaults PolicyConfig `yaml:"defaults"`

	// Policies maps route paths to their policy
	// Example: "/api/login" -> 5 per minute, "/api/search" -> 50 per second
	Policies map[string]PolicyConfig `yaml:"policies,omitempty"`

	// KeyExtractor specifies how to identify clients
	// Examples: "ip", "header:X-API-Key", "bearer", "query:api_key"
	KeyExtractor string `yaml:"key_extractor,omitempty"`

	// CleanupAge is how long idle limiters are kept, 0 keeps them forever
	CleanupAge time.Duration `yaml:"cleanup_age,omitempty"`
}

// PolicyConfig is the YAML form of a core.Policy.
//
//	rate: 10
//	period: 1s
//	max_burst: 30
type PolicyConfig struct {
	Rate     uint32        `yaml:"rate"`
	Period   time.Duration `yaml:"period"`
	MaxBurst *uint32       `yaml:"max_burst,omitempty"` // Defaults to Rate

	// Enabled allows switching limiting off for a route; omitted means on
	Enabled *bool `yaml:"enabled,omitempty"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Defaults:     PolicyConfig{Rate: 10, Period: time.Second, MaxBurst: core.Burst(100)},
		Policies:     make(map[string]PolicyConfig),
		KeyExtractor: "ip",
		CleanupAge:   time.Hour,
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
// Fields missing from the file keep the values of NewConfig.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document into a validated Config
func ParseConfig(data []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	if config.KeyExtractor == "" {
		config.KeyExtractor = "ip"
	}
	if config.Policies == nil {
		config.Policies = make(map[string]PolicyConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the defaults, every route policy and the key extractor.
func (c *Config) Validate() error {
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("%w: invalid defaults: %v", ErrInvalidConfig, err)
	}
	for route, policy := range c.Policies {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: invalid policy for route %s: %v", ErrInvalidConfig, route, err)
		}
	}
	if c.CleanupAge < 0 {
		return fmt.Errorf("%w: cleanup age cannot be negative", ErrInvalidConfig)
	}
	if c.KeyExtractor != "" {
		if _, err := ParseKeyExtractorConfig(c.KeyExtractor); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the policy can build a limiter
func (p PolicyConfig) Validate() error {
	return p.ToPolicy().Validate()
}

// IsEnabled reports whether requests on the route are limited
func (p PolicyConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ToPolicy converts the YAML form to core parameters
func (p PolicyConfig) ToPolicy() core.Policy {
	return core.Policy{Rate: p.Rate, Period: p.Period, MaxBurst: p.MaxBurst}
}

// GetPolicy returns the policy for route, or the defaults when it has none.
func (c *Config) GetPolicy(route string) PolicyConfig {
	if policy, exists := c.Policies[route]; exists {
		return policy
	}
	return c.Defaults
}

// SetPolicy sets the policy for route; an empty route replaces the defaults.
func (c *Config) SetPolicy(route string, policy PolicyConfig) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if route == "" {
		c.Defaults = policy
		return nil
	}
	if c.Policies == nil {
		c.Policies = make(map[string]PolicyConfig)
	}
	c.Policies[route] = policy
	return nil
}

// clone copies the config so callers can keep editing theirs
func (c *Config) clone() *Config {
	cp := *c
	cp.Policies = make(map[string]PolicyConfig, len(c.Policies))
	for route, policy := range c.Policies {
		cp.Policies[route] = policy
	}
	return &cp
}
