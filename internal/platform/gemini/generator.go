// Package gemini implements artifact generation using Google's Gemini API
// through the google.golang.org/genai client.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/phrazzld/pictor-api/internal/generation"
)

// Compile-time check to ensure Generator implements generation.Generator.
var _ generation.Generator = (*Generator)(nil)

// imageClient is the slice of the genai client the generator uses.
// Abstracted for tests.
type imageClient interface {
	GenerateImages(
		ctx context.Context,
		model string,
		prompt string,
		config *genai.GenerateImagesConfig,
	) (*genai.GenerateImagesResponse, error)
}

// Generator produces images with the Gemini Imagen models. The returned
// result reference is a data URI carrying the generated image bytes; callers
// that want durable URLs should copy the artifact to storage.
type Generator struct {
	client    imageClient
	modelName string
	logger    *slog.Logger
}

// NewGenerator creates a Gemini-backed generator. The API key and model name
// must be non-empty; client construction validates the key lazily on the
// first call.
func NewGenerator(
	ctx context.Context,
	apiKey, modelName string,
	logger *slog.Logger,
) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if modelName == "" {
		return nil, ErrMissingModelName
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInitialization, err)
	}

	return &Generator{
		client:    client.Models,
		modelName: modelName,
		logger:    logger.With(slog.String("component", "gemini_generator")),
	}, nil
}

// Generate requests a single image for the prompt and returns it as a data
// URI. The prompt must arrive fully resolved.
func (g *Generator) Generate(ctx context.Context, taskID, prompt string) (string, error) {
	if prompt == "" {
		return "", generation.ErrEmptyPrompt
	}

	log := g.logger.With(slog.String("task_id", taskID))
	log.Debug("requesting image generation", slog.String("model", g.modelName))

	resp, err := g.client.GenerateImages(ctx, g.modelName, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", generation.ErrGenerationCanceled, ctx.Err())
		}
		log.Error("image generation failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}

	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		log.Error("image generation returned no images")
		return "", fmt.Errorf("%w: empty response", generation.ErrGenerationFailed)
	}

	image := resp.GeneratedImages[0].Image
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	log.Debug("image generated",
		slog.String("mime_type", mimeType),
		slog.Int("bytes", len(image.ImageBytes)))

	return encodeDataURI(mimeType, image.ImageBytes), nil
}

// encodeDataURI renders image bytes as an RFC 2397 data URI.
func encodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
