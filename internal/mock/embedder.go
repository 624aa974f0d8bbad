package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/bull/noteai-server/internal/embedding"
)

// DefaultDimension is the vector size when none is given.
const DefaultDimension = 256

// Embedder is a test double for embedding.Embedder.
// It allows custom behavior injection via function fields.
type Embedder struct {
	// EmbedFunc is called by Embed if set.
	// If nil, uses default deterministic behavior.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	dim   int
	calls atomic.Int64
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder creates a mock embedder with default deterministic behavior.
func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

func (m *Embedder) Dimension() int { return m.dim }

// Embed is safe for concurrent use.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrService
	}
	return HashVector(text, m.dim), nil
}

// CallCount returns the number of Embed calls.
func (m *Embedder) CallCount() int {
	return int(m.calls.Load())
}

// HashVector maps every lowercased word of text to a bucket chosen by its FNV
// hash and normalizes the counts to a unit vector.
func HashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vector[h.Sum32()%uint32(dim)]++
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		// No words at all: a fixed direction keeps the vector valid.
		vector[0] = 1
		return vector
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
