package gemini

import "errors"

// Configuration and initialization errors.
var (
	// ErrMissingAPIKey is returned when the generator is constructed without an API key.
	ErrMissingAPIKey = errors.New("gemini API key is required")

	// ErrMissingModelName is returned when the generator is constructed without a model name.
	ErrMissingModelName = errors.New("gemini model name is required")

	// ErrClientInitialization is returned when the genai client cannot be created.
	ErrClientInitialization = errors.New("failed to initialize gemini client")
)
