// Package generation produces chat completions for answers, reviews and
// recommendations.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrGeneration is returned for every failed or empty completion.
var ErrGeneration = errors.New("generation failed")

// Role is the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Completion is the generated text. Confidence is the mean token probability
// when the provider reports log probabilities.
type Completion struct {
	Text       string
	Confidence *float64
}

// Generator is implemented by each provider.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

func wrap(err error) error {
	if errors.Is(err, ErrGeneration) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGeneration, err)
}

// meanProbability converts token log probabilities to a confidence in [0, 1].
func meanProbability(logprobs []float64) *float64 {
	if len(logprobs) == 0 {
		return nil
	}
	var sum float64
	for _, lp := range logprobs {
		sum += math.Exp(lp)
	}
	mean := sum / float64(len(logprobs))
	return &mean
}
