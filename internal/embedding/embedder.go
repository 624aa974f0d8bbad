// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultTimeout bounds a single embeddings request.
	DefaultTimeout = 30 * time.Second
)

// Embedder converts text into a vector of Dimension floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIConfig configures OpenAIEmbedder.
type OpenAIConfig struct {
	Model     string
	Dimension int
	Timeout   time.Duration
	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64
}

// OpenAIEmbedder calls the embeddings endpoint once per Embed. Wrap it in
// Retrying for transient-error handling.
type OpenAIEmbedder struct {
	client    *Client
	model     string
	dimension int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder on client, applying defaults to
// zero config values.
func NewOpenAIEmbedder(client *Client, cfg OpenAIConfig, logger *slog.Logger) *OpenAIEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAIEmbedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		limiter:   limiter,
		logger:    logger.With("component", "openai-embedder", "model", cfg.Model),
	}
}

// Dimension returns the configured vector size.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed generates one embedding. Errors are classified as ErrRateLimited,
// ErrTimeout or ErrService.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrService)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, Classify(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.client.Embeddings.New(callCtx, params)
	if err != nil {
		classified := Classify(err)
		e.logger.Debug("embedding request failed", "error", classified)
		return nil, classified
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrService)
	}
	vec := toFloat32(resp.Data[0].Embedding)
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d", ErrService, len(vec), e.dimension)
	}
	return vec, nil
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
