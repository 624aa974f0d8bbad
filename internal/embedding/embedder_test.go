package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingResponse(dim int) map[string]any {
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = float64(i) / float64(dim)
	}
	return map[string]any{
		"object": "list",
		"model":  DefaultModel,
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": vec},
		},
		"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
	}
}

func newTestEmbedder(t *testing.T, handler http.HandlerFunc, dim int) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return NewOpenAIEmbedder(client, OpenAIConfig{Dimension: dim, Timeout: 2 * time.Second}, nil)
}

func TestOpenAIEmbedder_Success(t *testing.T) {
	var body map[string]any
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embeddingResponse(8))
	}, 8)

	vec, err := e.Embed(context.Background(), "quang hợp")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 8, e.Dimension())
	assert.Equal(t, "quang hợp", body["input"])
	assert.Equal(t, DefaultModel, body["model"])
	assert.EqualValues(t, 8, body["dimensions"])
}

func TestOpenAIEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, ErrRateLimited},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, ErrService},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, ErrService},
		{"gateway timeout", http.StatusGatewayTimeout, `{"error":{"message":"slow","type":"timeout"}}`, ErrTimeout},
		{"malformed", http.StatusOK, `not json`, ErrService},
		{"empty data", http.StatusOK, `{"object":"list","data":[],"model":"m"}`, ErrService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}, 8)

			_, err := e.Embed(context.Background(), "text")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIEmbedder_DimensionMismatchIsServiceError(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embeddingResponse(4))
	}, 8)

	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrService)
}

func TestOpenAIEmbedder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	e := NewOpenAIEmbedder(client, OpenAIConfig{Dimension: 8, Timeout: 50 * time.Millisecond}, nil)

	_, err = e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, 8)

	_, err := e.Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrService)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

// scriptedEmbedder returns errs in order, then a vector.
type scriptedEmbedder struct {
	errs  []error
	calls atomic.Int32
}

func (s *scriptedEmbedder) Dimension() int { return 2 }

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return nil, s.errs[n]
	}
	return []float32{1, 0}, nil
}

var fastPolicy = RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestRetrying_RecoversFromRateLimits(t *testing.T) {
	inner := &scriptedEmbedder{errs: []error{ErrRateLimited, ErrRateLimited, ErrTimeout}}
	e := Retrying(inner, fastPolicy, nil)

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.EqualValues(t, 4, inner.calls.Load())
	assert.Equal(t, 2, e.Dimension())
}

func TestRetrying_StopsAtMaxAttempts(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = fmt.Errorf("%w: 429", ErrRateLimited)
	}
	inner := &scriptedEmbedder{errs: errs}
	e := Retrying(inner, fastPolicy, nil)

	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 5, inner.calls.Load())
}

func TestRetrying_DoesNotRetryServiceErrors(t *testing.T) {
	inner := &scriptedEmbedder{errs: []error{fmt.Errorf("%w: bad input", ErrService)}}
	e := Retrying(inner, fastPolicy, nil)

	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrService)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRetrying_HonorsCancellation(t *testing.T) {
	inner := &scriptedEmbedder{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	e := Retrying(inner, RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "text")
	assert.Error(t, err)
	assert.LessOrEqual(t, inner.calls.Load(), int32(1))
}
