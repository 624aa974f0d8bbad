//go:build integration

package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

// setupTestStore connects to a local Qdrant and ensures a throwaway
// collection exists. Skips the test if Qdrant is not running.
func setupTestStore(t *testing.T) *QdrantStore {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewQdrantStore(ctx, QdrantConfig{
		Host:            "localhost",
		Port:            6334,
		Collection:      "noteai_test_" + uuid.NewString()[:8],
		Dimension:       testDimension,
		MaxRetryElapsed: 2 * time.Second,
	}, nil)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	require.NoError(t, store.EnsureCollection(context.Background()), "Failed to ensure collection")
	t.Cleanup(func() {
		_ = store.client.DeleteCollection(context.Background(), store.collection)
		store.Close()
	})
	return store
}

func TestQdrant_UpsertQueryDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	scope := uuid.NewString()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
	}
	for i, v := range vectors {
		err := store.Upsert(ctx, Point{
			ID:         PointID(scope, i),
			Scope:      scope,
			DocumentID: "doc-1",
			Ordinal:    i,
			Text:       "chunk",
			Vector:     v,
			Meta:       map[string]string{"source_kind": "upload-pdf"},
		})
		require.NoError(t, err)
	}

	// Re-upserting the same ids does not duplicate points.
	require.NoError(t, store.Upsert(ctx, Point{ID: PointID(scope, 0), Scope: scope, Ordinal: 0, Vector: vectors[0]}))

	n, err := store.Count(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := store.Query(ctx, []float32{1, 0, 0, 0}, Query{Scope: scope, TopK: 5, ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Ordinal)
	assert.Equal(t, 1, matches[1].Ordinal)

	matches, err = store.Query(ctx, []float32{1, 0, 0, 0}, Query{Scope: scope, TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, store.DeleteScope(ctx, scope))
	require.NoError(t, store.DeleteScope(ctx, scope))

	n, err = store.Count(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQdrant_DimensionMismatch(t *testing.T) {
	store := setupTestStore(t)

	err := store.Upsert(context.Background(), Point{ID: uuid.NewString(), Scope: "s", Vector: []float32{1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
