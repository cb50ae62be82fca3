// Package generation defines the interface for producing generated artifacts
// from task prompts, along with a simulated backend for development.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator produces an artifact for a task prompt and returns a reference
// (typically a URL) to the stored result. Implementations must honor context
// cancellation on the blocking path.
type Generator interface {
	// Generate produces an artifact for the given prompt and returns a
	// reference to it. The prompt must arrive fully resolved; generators
	// perform no placeholder or template substitution.
	Generate(ctx context.Context, taskID, prompt string) (string, error)
}

// SimulatedGenerator fakes artifact generation with a fixed delay and a
// synthetic result reference derived from the task id. It is the default
// backend for local development and tests.
type SimulatedGenerator struct {
	delay   time.Duration
	baseURL string
}

// NewSimulatedGenerator creates a simulated generator. The delay models
// real backend latency; baseURL is the prefix of the synthetic result
// reference.
func NewSimulatedGenerator(delay time.Duration, baseURL string) *SimulatedGenerator {
	return &SimulatedGenerator{
		delay:   delay,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Generate waits for the configured delay and returns a synthetic URL.
// Returns the context error if the context is canceled while waiting.
func (g *SimulatedGenerator) Generate(ctx context.Context, taskID, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrGenerationCanceled, ctx.Err())
	}

	return fmt.Sprintf("%s/%s.png", g.baseURL, taskID), nil
}
