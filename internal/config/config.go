package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the readiness engine's application configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Store       StoreConfig     `mapstructure:"store"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Approvals   ApprovalsConfig `mapstructure:"approvals"`
	Sweep       SweepConfig     `mapstructure:"sweep"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	HTTPPort     int    `mapstructure:"http_port"`
	ReadTimeout  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeout int    `mapstructure:"write_timeout_seconds"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// KafkaConfig configures lifecycle event emission.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ApprovalsConfig carries the artifact-type to required-approval-roles
// table. It is deployment configuration: a bundle touching a given artifact
// type requires an approval from each mapped role.
type ApprovalsConfig struct {
	Roles map[string][]string `mapstructure:"roles"`
}

// SweepConfig configures the periodic validation sweep.
type SweepConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Schedule string   `mapstructure:"schedule"`
	Orgs     []string `mapstructure:"orgs"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Load reads configuration from config.yaml and READINESS_* env vars.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/readiness-engine")

	v.SetEnvPrefix("READINESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 30)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "catalog-events")

	v.SetDefault("approvals.roles", map[string][]string{
		"form":        {"compliance"},
		"rule":        {"compliance", "product"},
		"rateProgram": {"actuary"},
		"rateTable":   {"actuary"},
		"product":     {"product"},
	})

	v.SetDefault("sweep.enabled", false)
	v.SetDefault("sweep.schedule", "*/15 * * * *")
	v.SetDefault("sweep.orgs", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Sweep.Enabled && len(c.Sweep.Orgs) == 0 {
		return fmt.Errorf("sweep.orgs is required when the validation sweep is enabled")
	}
	return nil
}
