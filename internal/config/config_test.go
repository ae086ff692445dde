package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("EntryKeyTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{EntryKeyTTLSeconds: 900}
		assert.Equal(t, 900*time.Second, cfg.EntryKeyTTL())
	})

	t.Run("SweepInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SweepIntervalSeconds: 3600}
		assert.Equal(t, time.Hour, cfg.SweepInterval())
	})

	t.Run("optional integrations are off without endpoints", func(t *testing.T) {
		cfg := &Config{}
		assert.False(t, cfg.MQTT.Enabled())
		assert.False(t, cfg.Influx.Enabled())

		cfg.MQTT.BrokerURL = "tcp://localhost:1883"
		cfg.Influx.URL = "http://localhost:8086"
		assert.True(t, cfg.MQTT.Enabled())
		assert.True(t, cfg.Influx.Enabled())
	})
}

func TestValidate(t *testing.T) {
	strong := strings.Repeat("k", 40)
	valid := func() *Config {
		return &Config{
			EntryKeyTTLSeconds:   3600,
			SweepIntervalSeconds: 3600,
			AuthJWTSecret:        strong,
			DeviceAPIKey:         strong,
			RedisURL:             "rediss://localhost:6379",
		}
	}

	t.Run("accepts a complete config", func(t *testing.T) {
		assert.NoError(t, valid().Validate(true))
	})

	t.Run("rejects non-bcrypt admin hash", func(t *testing.T) {
		cfg := valid()
		cfg.AdminTokenHash = "plaintext"
		assert.Error(t, cfg.Validate(false))

		cfg.AdminTokenHash = "$2a$10$abcdefghijklmnopqrstuv"
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive durations", func(t *testing.T) {
		cfg := valid()
		cfg.EntryKeyTTLSeconds = 0
		assert.Error(t, cfg.Validate(false))

		cfg = valid()
		cfg.SweepIntervalSeconds = -1
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("requires influx token when history is on", func(t *testing.T) {
		cfg := valid()
		cfg.Influx.URL = "http://localhost:8086"
		assert.Error(t, cfg.Validate(false))

		cfg.Influx.Token = "token"
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("production rejects weak secrets", func(t *testing.T) {
		cfg := valid()
		cfg.AuthJWTSecret = "secret"
		assert.Error(t, cfg.Validate(true))
		assert.NoError(t, cfg.Validate(false))

		cfg = valid()
		cfg.DeviceAPIKey = "short"
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "ENTRY_KEY_TTL_SECONDS",
		"SWEEP_INTERVAL_SECONDS", "LOG_LEVEL", "MQTT_BROKER_URL", "MQTT_TOPIC_PREFIX",
		"MQTT_QOS", "INFLUX_URL", "INFLUX_BUCKET",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 3600, cfg.EntryKeyTTLSeconds)
		assert.Equal(t, 3600, cfg.SweepIntervalSeconds)
		assert.Equal(t, 10, cfg.ClaimRateLimitPerMin)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "thermostat", cfg.MQTT.TopicPrefix)
		assert.Equal(t, byte(1), cfg.MQTT.QoS)
		assert.Equal(t, "device_state", cfg.Influx.Bucket)
		assert.False(t, cfg.MQTT.Enabled())
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("ENTRY_KEY_TTL_SECONDS", "600")
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
		os.Setenv("MQTT_TOPIC_PREFIX", "nest")
		os.Setenv("MQTT_QOS", "0")
		os.Setenv("INFLUX_URL", "http://influx:8086")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 600, cfg.EntryKeyTTLSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
		assert.Equal(t, "nest", cfg.MQTT.TopicPrefix)
		assert.Equal(t, byte(0), cfg.MQTT.QoS)
		assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
