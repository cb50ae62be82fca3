package generation

import "errors"

// Common generation errors.
var (
	// ErrEmptyPrompt is returned when Generate is called with an empty prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrGenerationCanceled is returned when the context is canceled or its
	// deadline expires while generation is in flight.
	ErrGenerationCanceled = errors.New("generation canceled")

	// ErrGenerationFailed is returned when the backend could not produce an
	// artifact. The wrapped error carries the backend detail.
	ErrGenerationFailed = errors.New("generation failed")
)
