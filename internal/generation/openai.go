package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/noteai-server/internal/embedding"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel answers chat, review and recommendation prompts.
	DefaultModel = "gpt-4o-mini"

	// DefaultVisionModel transcribes uploaded images.
	DefaultVisionModel = "gpt-4o-mini"

	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 60 * time.Second
)

// OpenAIConfig configures OpenAIGenerator.
type OpenAIConfig struct {
	Model       string
	VisionModel string
	Timeout     time.Duration
	// Logprobs requests token log probabilities for a confidence estimate.
	Logprobs bool
}

// OpenAIGenerator produces completions with the chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	visionModel string
	timeout     time.Duration
	logprobs    bool
	logger      *slog.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator sharing the embedding client's
// connection settings.
func NewOpenAIGenerator(client *embedding.Client, cfg OpenAIConfig, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OpenAIGenerator{
		client:      client.Client(),
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		timeout:     cfg.Timeout,
		logprobs:    cfg.Logprobs,
		logger:      logger.With("component", "openai-generator", "model", cfg.Model),
	}
}

// Generate runs one chat completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}
	if g.logprobs {
		params.Logprobs = openai.Bool(true)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		g.logger.Warn("chat completion failed", "error", err, "duration", time.Since(start))
		return nil, wrap(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	choice := resp.Choices[0]
	completion := &Completion{Text: choice.Message.Content}
	if len(choice.Logprobs.Content) > 0 {
		lps := make([]float64, len(choice.Logprobs.Content))
		for i, tok := range choice.Logprobs.Content {
			lps[i] = tok.Logprob
		}
		completion.Confidence = meanProbability(lps)
	}

	g.logger.Debug("chat completion", "duration", time.Since(start), "tokens", resp.Usage.TotalTokens)
	return completion, nil
}

const ocrPrompt = "Transcribe all text visible in this image exactly as written, " +
	"preserving paragraphs and the original language. Output only the transcribed text. " +
	"If there is no text, output nothing."

// OCR transcribes the text in an image with the vision model.
func (g *OpenAIGenerator) OCR(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(ocrPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		Model:       openai.ChatModel(g.visionModel),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", wrap(fmt.Errorf("vision completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty vision completion", ErrGeneration)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
