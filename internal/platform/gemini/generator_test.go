package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/pictor-api/internal/generation"
)

// mockImageClient stands in for the genai Models service.
type mockImageClient struct {
	resp *genai.GenerateImagesResponse
	err  error

	gotModel  string
	gotPrompt string
}

func (m *mockImageClient) GenerateImages(
	_ context.Context,
	model string,
	prompt string,
	_ *genai.GenerateImagesConfig,
) (*genai.GenerateImagesResponse, error) {
	m.gotModel = model
	m.gotPrompt = prompt
	return m.resp, m.err
}

func newTestGenerator(client imageClient) *Generator {
	return &Generator{
		client:    client,
		modelName: "imagen-3.0-generate-002",
		logger:    slog.Default(),
	}
}

func TestNewGeneratorValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewGenerator(ctx, "", "imagen-3.0-generate-002", nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewGenerator(ctx, "key", "", nil)
	assert.ErrorIs(t, err, ErrMissingModelName)
}

func TestGenerate(t *testing.T) {
	t.Run("returns a data URI for the generated image", func(t *testing.T) {
		client := &mockImageClient{
			resp: &genai.GenerateImagesResponse{
				GeneratedImages: []*genai.GeneratedImage{
					{Image: &genai.Image{ImageBytes: []byte("png-bytes"), MIMEType: "image/png"}},
				},
			},
		}
		gen := newTestGenerator(client)

		ref, err := gen.Generate(context.Background(), "t1", "a red balloon")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref, "data:image/png;base64,"))
		assert.Equal(t, "imagen-3.0-generate-002", client.gotModel)
		assert.Equal(t, "a red balloon", client.gotPrompt)
	})

	t.Run("defaults the mime type when the backend omits it", func(t *testing.T) {
		client := &mockImageClient{
			resp: &genai.GenerateImagesResponse{
				GeneratedImages: []*genai.GeneratedImage{
					{Image: &genai.Image{ImageBytes: []byte("bytes")}},
				},
			},
		}
		gen := newTestGenerator(client)

		ref, err := gen.Generate(context.Background(), "t1", "p")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref, "data:image/png;base64,"))
	})

	t.Run("rejects empty prompt without calling the backend", func(t *testing.T) {
		client := &mockImageClient{}
		gen := newTestGenerator(client)

		_, err := gen.Generate(context.Background(), "t1", "")
		assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
		assert.Empty(t, client.gotPrompt)
	})

	t.Run("wraps backend errors", func(t *testing.T) {
		client := &mockImageClient{err: errors.New("quota exceeded")}
		gen := newTestGenerator(client)

		_, err := gen.Generate(context.Background(), "t1", "p")
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("empty response is a failure", func(t *testing.T) {
		client := &mockImageClient{resp: &genai.GenerateImagesResponse{}}
		gen := newTestGenerator(client)

		_, err := gen.Generate(context.Background(), "t1", "p")
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
	})

	t.Run("canceled context maps to canceled error", func(t *testing.T) {
		client := &mockImageClient{err: context.Canceled}
		gen := newTestGenerator(client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := gen.Generate(ctx, "t1", "p")
		assert.ErrorIs(t, err, generation.ErrGenerationCanceled)
	})
}
