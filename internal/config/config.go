package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Runner     RunnerConfig     `mapstructure:"runner"     validate:"required"`
	Notifier   NotifierConfig   `mapstructure:"notifier"   validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// Driver "memory" runs the store in-process without Postgres; useful for
// local development and the demo path.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL    string `mapstructure:"url"    validate:"required_if=Driver postgres,omitempty,url"`
}

// RunnerConfig controls the background task runner.
type RunnerConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize   int `mapstructure:"queue_size"   validate:"required,gt=0"`
}

// NotifierConfig controls completion-callback delivery.
// CallbackURL is the completion ingress of the receiving process; by default
// it points back at this server's own webhook endpoint. TimeoutSeconds
// bounds a single delivery attempt. There are no retries; a failed attempt
// falls back to a direct store write.
type NotifierConfig struct {
	CallbackURL    string `mapstructure:"callback_url"    validate:"required,url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"required,gt=0"`
}

// GenerationConfig selects and configures the image generation backend.
// Backend "simulated" produces a synthetic result reference after a fixed
// delay; "gemini" calls the Imagen API through google.golang.org/genai.
type GenerationConfig struct {
	Backend       string `mapstructure:"backend"        validate:"required,oneof=simulated gemini"`
	DelaySeconds  int    `mapstructure:"delay_seconds"  validate:"gte=0"`
	ResultBaseURL string `mapstructure:"result_base_url" validate:"required,url"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" validate:"required_if=Backend gemini"`
	ModelName     string `mapstructure:"model_name"     validate:"required_if=Backend gemini"`
}
