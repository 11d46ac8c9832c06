package config

import (
	"os"
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

	t.Run("RingTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{RingTimeoutSeconds: 45}
		assert.Equal(t, 45*time.Second, cfg.RingTimeout())
	})

	t.Run("SweepInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SweepIntervalSeconds: 10}
		assert.Equal(t, 10*time.Second, cfg.SweepInterval())
	})

	t.Run("PollInterval converts milliseconds to duration", func(t *testing.T) {
		cfg := &Config{PollIntervalMillis: 2000}
		assert.Equal(t, 2*time.Second, cfg.PollInterval())
	})
}

func TestValidate(t *testing.T) {
	valid := Config{
		StoreBackend:         "postgres",
		DatabaseURL:          "postgres://localhost/calls",
		RedisURL:             "redis://localhost:6379",
		RingTimeoutSeconds:   45,
		SweepIntervalSeconds: 10,
		PollIntervalMillis:   2000,
	}

	t.Run("accepts a complete postgres config", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.Validate())
	})

	t.Run("postgres backend requires DATABASE_URL", func(t *testing.T) {
		cfg := valid
		cfg.DatabaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis backend does not require DATABASE_URL", func(t *testing.T) {
		cfg := valid
		cfg.StoreBackend = "redis"
		cfg.DatabaseURL = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		cfg := valid
		cfg.StoreBackend = "sqlite"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive intervals", func(t *testing.T) {
		cfg := valid
		cfg.RingTimeoutSeconds = 0
		assert.Error(t, cfg.Validate())

		cfg = valid
		cfg.SweepIntervalSeconds = -1
		assert.Error(t, cfg.Validate())

		cfg = valid
		cfg.PollIntervalMillis = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                   os.Getenv("PORT"),
		"STORE_BACKEND":          os.Getenv("STORE_BACKEND"),
		"DATABASE_URL":           os.Getenv("DATABASE_URL"),
		"REDIS_URL":              os.Getenv("REDIS_URL"),
		"RING_TIMEOUT_SECONDS":   os.Getenv("RING_TIMEOUT_SECONDS"),
		"SWEEP_INTERVAL_SECONDS": os.Getenv("SWEEP_INTERVAL_SECONDS"),
		"POLL_INTERVAL_MS":       os.Getenv("POLL_INTERVAL_MS"),
		"LOG_LEVEL":              os.Getenv("LOG_LEVEL"),
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
		os.Setenv("DATABASE_URL", "postgres://localhost/calls")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("RING_TIMEOUT_SECONDS")
		os.Unsetenv("SWEEP_INTERVAL_SECONDS")
		os.Unsetenv("POLL_INTERVAL_MS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres", cfg.StoreBackend)
		assert.Equal(t, 45, cfg.RingTimeoutSeconds)
		assert.Equal(t, 10, cfg.SweepIntervalSeconds)
		assert.Equal(t, 2000, cfg.PollIntervalMillis)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/calls")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("RING_TIMEOUT_SECONDS", "30")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 30, cfg.RingTimeoutSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/calls")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
