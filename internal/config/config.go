/**
 * @description
 * This package handles the configuration management for the pix-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the pix-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange     string `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	CelcoinAPIBaseURL        string `mapstructure:"CELCOIN_API_BASE_URL"`
	CelcoinAPIKey            string `mapstructure:"CELCOIN_API_KEY"`
	CelcoinSourceAccount     string `mapstructure:"CELCOIN_SOURCE_ACCOUNT"`
	CelcoinSourceBranch      string `mapstructure:"CELCOIN_SOURCE_BRANCH"`
	AuthAPIBaseURL           string `mapstructure:"AUTH_API_BASE_URL"`
	AuthAPIKey               string `mapstructure:"AUTH_API_KEY"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	SessionIdleTimeoutSec    int    `mapstructure:"SESSION_IDLE_TIMEOUT_SECONDS"`
	PollIntervalSec          int    `mapstructure:"PAYMENT_POLL_INTERVAL_SECONDS"`
	PollMaxAttempts          int    `mapstructure:"PAYMENT_POLL_MAX_ATTEMPTS"`
	PINMaxAttempts           int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutSeconds        int    `mapstructure:"PIN_LOCKOUT_SECONDS"`
	PINRateLimitPerMinute    int    `mapstructure:"PIN_RATE_LIMIT_PER_MINUTE"`
	IntentReconcileSchedule  string `mapstructure:"INTENT_RECONCILE_SCHEDULE"`
	IntentReconcileBatchSize int    `mapstructure:"INTENT_RECONCILE_BATCH_SIZE"`
	IntentStaleAfterSec      int    `mapstructure:"INTENT_STALE_AFTER_SECONDS"`
}

// SessionIdleTimeout returns the inactivity window as a duration.
func (c Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSec) * time.Second
}

// PollInterval returns the settlement poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// IntentStaleAfter returns the age past which an in-flight intent is
// considered abandoned and handed to the reconciliation job.
func (c Config) IntentStaleAfter() time.Duration {
	return time.Duration(c.IntentStaleAfterSec) * time.Second
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "rose.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "rose:rate_limit")
	viper.SetDefault("SESSION_IDLE_TIMEOUT_SECONDS", 180)
	viper.SetDefault("PAYMENT_POLL_INTERVAL_SECONDS", 5)
	viper.SetDefault("PAYMENT_POLL_MAX_ATTEMPTS", 6)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 600)
	viper.SetDefault("PIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("INTENT_RECONCILE_SCHEDULE", "*/2 * * * *")
	viper.SetDefault("INTENT_RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("INTENT_STALE_AFTER_SECONDS", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PIX_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("CELCOIN_API_BASE_URL")
	_ = viper.BindEnv("CELCOIN_API_KEY")
	_ = viper.BindEnv("CELCOIN_SOURCE_ACCOUNT")
	_ = viper.BindEnv("CELCOIN_SOURCE_BRANCH")
	_ = viper.BindEnv("AUTH_API_BASE_URL")
	_ = viper.BindEnv("AUTH_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("SESSION_IDLE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PAYMENT_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("PAYMENT_POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("PIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INTENT_RECONCILE_SCHEDULE")
	_ = viper.BindEnv("INTENT_RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("INTENT_STALE_AFTER_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "rose:rate_limit"
	}

	if config.SessionIdleTimeoutSec <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive session idle timeout; using default\" seconds=%d", config.SessionIdleTimeoutSec)
		config.SessionIdleTimeoutSec = 180
	}
	if config.PollIntervalSec <= 0 {
		config.PollIntervalSec = 5
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = 6
	}
	if config.PINMaxAttempts <= 0 {
		config.PINMaxAttempts = 5
	}
	if config.PINLockoutSeconds <= 0 {
		config.PINLockoutSeconds = 600
	}
	if config.PINRateLimitPerMinute < 0 {
		config.PINRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.IntentReconcileSchedule) == "" {
		config.IntentReconcileSchedule = "*/2 * * * *"
	}
	if config.IntentReconcileBatchSize <= 0 {
		config.IntentReconcileBatchSize = 100
	}
	if config.IntentStaleAfterSec <= 0 {
		config.IntentStaleAfterSec = 120
	}

	return
}
