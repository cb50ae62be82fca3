package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Default values keep the server runnable with nothing but a database URL
	// (or with the in-memory store, with nothing at all).
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("runner.worker_count", 4)
	v.SetDefault("runner.queue_size", 100)
	v.SetDefault("notifier.callback_url", "http://localhost:8080/webhook/generation-callback")
	v.SetDefault("notifier.timeout_seconds", 10)
	v.SetDefault("generation.backend", "simulated")
	v.SetDefault("generation.delay_seconds", 5)
	v.SetDefault("generation.result_base_url", "https://example.com/generated-images")

	// Optional config file in the working directory or /etc/pictor.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pictor")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults apply.
	}

	// Environment variables with the PICTOR_ prefix override file values,
	// e.g. PICTOR_DATABASE_URL, PICTOR_SERVER_PORT.
	v.SetEnvPrefix("PICTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults must be bound explicitly for AutomaticEnv to
	// surface them during Unmarshal.
	for _, key := range []string{"database.url", "generation.gemini_api_key", "generation.model_name"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
