package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	AuthJWTSecret        string `env:"AUTH_JWT_SECRET"`
	AuthJWTIssuer        string `env:"AUTH_JWT_ISSUER"`
	DeviceAPIKey         string `env:"DEVICE_API_KEY"`
	AdminTokenHash       string `env:"ADMIN_TOKEN_HASH"`
	EntryKeyTTLSeconds   int    `env:"ENTRY_KEY_TTL_SECONDS" envDefault:"3600"`
	SweepIntervalSeconds int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"3600"`
	ClaimRateLimitPerMin int    `env:"CLAIM_RATE_LIMIT_PER_MIN" envDefault:"10"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`

	MQTT   MQTTConfig   `envPrefix:"MQTT_"`
	Influx InfluxConfig `envPrefix:"INFLUX_"`
}

// MQTTConfig configures device telemetry ingest. Ingest is off when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL   string `env:"BROKER_URL"`
	ClientID    string `env:"CLIENT_ID" envDefault:"state-server"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	TopicPrefix string `env:"TOPIC_PREFIX" envDefault:"thermostat"`
	QoS         byte   `env:"QOS" envDefault:"1"`
}

func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

// InfluxConfig configures state-write history. History is off when URL is empty.
type InfluxConfig struct {
	URL    string `env:"URL"`
	Token  string `env:"TOKEN"`
	Org    string `env:"ORG" envDefault:"nolongerevil"`
	Bucket string `env:"BUCKET" envDefault:"device_state"`
}

func (i InfluxConfig) Enabled() bool {
	return i.URL != ""
}

func (c *Config) EntryKeyTTL() time.Duration {
	return time.Duration(c.EntryKeyTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminTokenHash != "" {
		if !strings.HasPrefix(c.AdminTokenHash, "$2a$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2b$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2y$") {
			return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <token>)")
		}
	}
	if c.EntryKeyTTLSeconds <= 0 {
		return fmt.Errorf("ENTRY_KEY_TTL_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.Influx.Enabled() && c.Influx.Token == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_URL is set")
	}

	if isProduction {
		if err := validateSecret("AUTH_JWT_SECRET", c.AuthJWTSecret); err != nil {
			return err
		}
		if err := validateSecret("DEVICE_API_KEY", c.DeviceAPIKey); err != nil {
			return err
		}

		if c.AdminTokenHash == "" {
			log.Warn().Msg("ADMIN_TOKEN_HASH is empty in production: internal routes are disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
