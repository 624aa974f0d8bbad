package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig points at an OpenAI-compatible chat host.
type LangchainConfig struct {
	Host    string
	Model   string
	Token   string
	Timeout time.Duration
}

// LangchainGenerator implements Generator through langchaingo. It does not
// report confidence.
type LangchainGenerator struct {
	client  llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

var _ Generator = (*LangchainGenerator)(nil)

// NewLangchainGenerator creates a generator for cfg.Host.
func NewLangchainGenerator(cfg LangchainConfig, logger *slog.Logger) (*LangchainGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" || cfg.Model == "" {
		return nil, fmt.Errorf("langchain generator: host and model are required")
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
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return newLangchainGenerator(client, cfg.Timeout, logger), nil
}

func newLangchainGenerator(model llms.Model, timeout time.Duration, logger *slog.Logger) *LangchainGenerator {
	return &LangchainGenerator{
		client:  model,
		timeout: timeout,
		logger:  logger.With("component", "langchain-generator"),
	}
}

func (g *LangchainGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.client.GenerateContent(callCtx, content, opts...)
	if err != nil {
		g.logger.Warn("failed to generate content", "err", err)
		return nil, wrap(err)
	}
	if len(response.Choices) < 1 || strings.TrimSpace(response.Choices[0].Content) == "" {
		return nil, fmt.Errorf("%w: no choices returned from model", ErrGeneration)
	}
	return &Completion{Text: response.Choices[0].Content}, nil
}
