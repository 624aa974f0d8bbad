package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig points at an OpenAI-compatible embedding host such as a
// local inference server.
type LangchainConfig struct {
	Host      string
	Model     string
	Token     string
	Dimension int
	Timeout   time.Duration
}

// LangchainEmbedder implements Embedder through langchaingo.
type LangchainEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
	timeout   time.Duration
	logger    *slog.Logger
}

var _ Embedder = (*LangchainEmbedder)(nil)

// NewLangchainEmbedder creates an embedder for cfg.Host.
func NewLangchainEmbedder(cfg LangchainConfig, logger *slog.Logger) (*LangchainEmbedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" || cfg.Model == "" {
		return nil, fmt.Errorf("langchain embedder: host and model are required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("langchain embedder: dimension must be positive")
	}
	if cfg.Token == "" {
		// Local OpenAI-compatible services don't require authentication
		cfg.Token = "none"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &LangchainEmbedder{
		embedder:  embedder,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "langchain-embedder", "model", cfg.Model),
	}, nil
}

func (e *LangchainEmbedder) Dimension() int {
	return e.dimension
}

// Embed generates a vector embedding for a single text string.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrService)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vectors, err := e.embedder.EmbedDocuments(callCtx, []string{text})
	if err != nil {
		e.logger.Debug("failed to generate embedding", "err", err)
		return nil, classifyLangchain(err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrService)
	}
	if len(vectors[0]) != e.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d", ErrService, len(vectors[0]), e.dimension)
	}
	return vectors[0], nil
}

// classifyLangchain recognizes throttling from the error text, since
// langchaingo does not expose status codes.
func classifyLangchain(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return Classify(err)
}
