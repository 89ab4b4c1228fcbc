// Package config loads the CLI's runtime configuration from an optional
// .env file and the process environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything cmd/amicli needs to dial an Asterisk Management
// Interface endpoint, authenticate, and report health.
type Config struct {
	Host string `env:"AMI_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"AMI_PORT" envDefault:"5038"`

	Username string `env:"AMI_USERNAME,required"`
	Secret   string `env:"AMI_SECRET,required"`
	UseMD5   bool   `env:"AMI_MD5" envDefault:"true"`

	DialTimeout time.Duration `env:"AMI_DIAL_TIMEOUT" envDefault:"5s"`

	MailboxCapacity int `env:"AMI_MAILBOX_CAPACITY" envDefault:"256"`

	NATSUrl string `env:"AMI_NATS_URL"` // empty disables the event bridge

	MetricsAddr string `env:"AMI_METRICS_ADDR" envDefault:":9477"`

	HealthInterval time.Duration `env:"AMI_HEALTH_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"AMI_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AMI_LOG_FORMAT" envDefault:"json"`
}

// Load reads a .env file (if present, ignored if absent) then binds the
// process environment onto a Config, applying defaults for unset fields.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional: absence is not an error

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
