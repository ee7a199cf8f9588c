/*-------------------------------------------------------------------------
 *
 * config.go
 *    Configuration for the approvald server
 *
 * Provides configuration loading from YAML files with environment
 * variable overrides.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/config/config.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Webhooks      WebhooksConfig      `yaml:"webhooks"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type WebhooksConfig struct {
	Secret         string        `yaml:"secret"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ClaimLease     time.Duration `yaml:"claim_lease"`
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type SweeperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	EscalationLead time.Duration `yaml:"escalation_lead"`
	EscalateTo     string        `yaml:"escalate_to"`
}

type RateLimitConfig struct {
	DecisionLimit  int           `yaml:"decision_limit"`
	DecisionWindow time.Duration `yaml:"decision_window"`
	DeliveryLimit  int           `yaml:"delivery_limit"`
	DeliveryWindow time.Duration `yaml:"delivery_window"`
}

type NotificationsConfig struct {
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

/* DefaultConfig returns a configuration with sane defaults */
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "approvald",
			Database:        "approvald",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Webhooks: WebhooksConfig{
			MaxAttempts:    5,
			BaseBackoff:    30 * time.Second,
			MaxBackoff:     30 * time.Minute,
			RequestTimeout: 15 * time.Second,
			ClaimLease:     2 * time.Minute,
			Workers:        4,
			BatchSize:      20,
			PollInterval:   5 * time.Second,
		},
		Sweeper: SweeperConfig{
			Interval:       time.Minute,
			EscalationLead: 15 * time.Minute,
			EscalateTo:     "reviews@outreachforge.io",
		},
		RateLimit: RateLimitConfig{
			DecisionLimit:  60,
			DecisionWindow: time.Minute,
			DeliveryLimit:  120,
			DeliveryWindow: time.Minute,
		},
		Notifications: NotificationsConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

/* LoadConfig loads configuration from a YAML file on top of defaults */
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

/* LoadFromEnv overrides configuration from environment variables */
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("APPROVALD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("APPROVALD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APPROVALD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("APPROVALD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("APPROVALD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("APPROVALD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("APPROVALD_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("APPROVALD_WEBHOOK_SECRET"); v != "" {
		cfg.Webhooks.Secret = v
	}
	if v := os.Getenv("APPROVALD_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.SlackWebhookURL = v
	}
	if v := os.Getenv("APPROVALD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APPROVALD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

/* ConnString builds a lib/pq connection string */
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

/* Validate checks the configuration for fatal problems */
func (c *Config) Validate() error {
	if c.Webhooks.Secret == "" {
		return fmt.Errorf("webhook secret is required (set webhooks.secret or APPROVALD_WEBHOOK_SECRET)")
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.max_attempts must be at least 1, got %d", c.Webhooks.MaxAttempts)
	}
	if c.Webhooks.BaseBackoff <= 0 || c.Webhooks.MaxBackoff < c.Webhooks.BaseBackoff {
		return fmt.Errorf("invalid webhook backoff configuration: base=%s, max=%s",
			c.Webhooks.BaseBackoff, c.Webhooks.MaxBackoff)
	}
	return nil
}
