// Package config loads the arbiter configuration from YAML, environment and
// flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/arbiter/internal/agent"
)

// EnvPrefix prefixes environment overrides, e.g. ARBITER_SERVER_ADDR.
const EnvPrefix = "ARBITER"

// Config holds the entire arbiter configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Notifier NotifierConfig `yaml:"notifier" mapstructure:"notifier"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr                  string          `yaml:"addr" mapstructure:"addr"`
	AdminSecret           string          `yaml:"admin_secret" mapstructure:"admin_secret"`
	RateLimit             RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	ReputationAuthorities []string        `yaml:"reputation_authorities" mapstructure:"reputation_authorities"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" mapstructure:"requests"`
	Window   time.Duration `yaml:"window" mapstructure:"window"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// NotifierConfig paces the event outbox drain.
type NotifierConfig struct {
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", time.Minute)
	v.SetDefault("storage.path", "data/arbiter.db")
	v.SetDefault("notifier.interval", 2*time.Second)
	v.SetDefault("notifier.batch_size", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configFile (when non-empty, otherwise ./arbiter.yaml or
// ./config/arbiter.yaml if present), applies ARBITER_* environment
// overrides and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("arbiter")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// AutomaticEnv only resolves keys viper knows about.
	_ = v.BindEnv("server.admin_secret")
	_ = v.BindEnv("server.reputation_authorities")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.AdminSecret == "" {
		return errors.New("config: server.admin_secret is required")
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.RateLimit.Requests <= 0 || c.Server.RateLimit.Window <= 0 {
		return errors.New("config: server.rate_limit requests and window must be positive")
	}
	if c.Notifier.Interval <= 0 || c.Notifier.BatchSize <= 0 {
		return errors.New("config: notifier interval and batch_size must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("config: storage.path is required")
	}
	if _, err := c.Authorities(); err != nil {
		return err
	}
	return nil
}

// Authorities parses the configured reputation authority identities.
func (c *Config) Authorities() ([]agent.ID, error) {
	out := make([]agent.ID, 0, len(c.Server.ReputationAuthorities))
	for _, s := range c.Server.ReputationAuthorities {
		id, err := agent.ParseID(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("config: reputation authority %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Redacted renders the configuration as YAML with the admin secret masked.
func (c *Config) Redacted() ([]byte, error) {
	cp := *c
	if cp.Server.AdminSecret != "" {
		cp.Server.AdminSecret = "********"
	}
	out, err := yaml.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
