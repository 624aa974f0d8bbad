package mock

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashVector(t *testing.T) {
	a := HashVector("Quang hợp tạo ra oxy", 128)
	b := HashVector("quang hợp tạo ra oxy!", 128)
	c := HashVector("Ngân hàng trung ương", 128)

	assert.Equal(t, a, b)
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	assert.Greater(t, cosine(a, HashVector("oxy quang hợp", 128)), cosine(a, c))
}

func TestEmbedder(t *testing.T) {
	e := NewEmbedder(32)
	vec, err := e.Embed(context.Background(), "photosynthesis")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	assert.Equal(t, 32, e.Dimension())

	_, err = e.Embed(context.Background(), " ")
	assert.Error(t, err)
	assert.Equal(t, 2, e.CallCount())
}

func TestGenerator_Chat(t *testing.T) {
	g := NewGenerator()
	req, _ := prompt.Chat(prompt.ChatInput{
		Question:        "Quang hợp tạo ra gì?",
		Language:        language.Vietnamese,
		Chunks:          []prompt.Chunk{{Text: "Quang hợp tạo ra oxy."}},
		MaxContextChars: 500,
	})
	got, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Theo tài liệu: Quang hợp tạo ra oxy.", got.Text)
	require.NotNil(t, got.Confidence)

	req, _ = prompt.Chat(prompt.ChatInput{Question: "What?", Language: language.English, MaxContextChars: 500})
	got, err = g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, prompt.NotFoundPhrase(language.English), got.Text)
	assert.Equal(t, 2, g.CallCount())
}

func TestGenerator_ReviewJSON(t *testing.T) {
	g := NewGenerator()
	got, err := g.Generate(context.Background(), prompt.Review(prompt.ReviewInput{
		Title: "Hô hấp", Note: "ATP", Language: language.Vietnamese,
	}))
	require.NoError(t, err)

	var review map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.Text), &review))
	assert.Equal(t, "vi", review["language"])
	assert.NotEmpty(t, review["overall_feedback"])
}

func TestGenerator_Func(t *testing.T) {
	g := NewGenerator()
	g.GenerateFunc = func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
		return nil, generation.ErrGeneration
	}
	_, err := g.Generate(context.Background(), generation.Request{})
	assert.ErrorIs(t, err, generation.ErrGeneration)
	assert.Len(t, g.Requests(), 1)
}
