package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SESSION_IDLE_TIMEOUT_SECONDS")
	unsetEnvWithCleanup(t, "PAYMENT_POLL_INTERVAL_SECONDS")
	unsetEnvWithCleanup(t, "PAYMENT_POLL_MAX_ATTEMPTS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SessionIdleTimeout() != 3*time.Minute {
		t.Fatalf("expected 3m idle timeout, got %s", cfg.SessionIdleTimeout())
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.PollInterval())
	}
	if cfg.PollMaxAttempts != 6 {
		t.Fatalf("expected 6 poll attempts, got %d", cfg.PollMaxAttempts)
	}
}

func TestLoadConfig_CoercesNonPositiveIdleTimeout(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SESSION_IDLE_TIMEOUT_SECONDS", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SessionIdleTimeoutSec != 180 {
		t.Fatalf("expected idle timeout coerced to 180, got %d", cfg.SessionIdleTimeoutSec)
	}
}

func TestLoadConfig_ReadsRedisURLAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REDIS_URL")
	setEnvWithCleanup(t, "PIX_REDIS_URL", "redis://alias:6379")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RedisURL != "redis://alias:6379" {
		t.Fatalf("expected RedisURL from alias env var, got %q", cfg.RedisURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
