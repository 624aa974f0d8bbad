package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(scope string, ordinal int, v ...float32) Point {
	return Point{
		ID:         PointID(scope, ordinal),
		Scope:      scope,
		DocumentID: "doc-" + scope,
		Ordinal:    ordinal,
		Text:       "text",
		Vector:     v,
	}
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("s", 3), PointID("s", 3))
	assert.NotEqual(t, PointID("s", 3), PointID("s", 4))
	assert.NotEqual(t, PointID("s", 3), PointID("t", 3))
}

func TestMemoryStore_OrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)

	require.NoError(t, m.Upsert(ctx, point("a", 0, 1, 0)))     // score 1
	require.NoError(t, m.Upsert(ctx, point("a", 1, 1, 1)))     // score ~0.707
	require.NoError(t, m.Upsert(ctx, point("a", 2, 0, 1)))     // score 0
	require.NoError(t, m.Upsert(ctx, point("a", 3, -1, 0)))    // score -1
	require.NoError(t, m.Upsert(ctx, point("other", 0, 1, 0))) // different scope

	matches, err := m.Query(ctx, []float32{1, 0}, Query{Scope: "a", TopK: 10, ScoreThreshold: 0.3})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Ordinal)
	assert.Equal(t, 1, matches[1].Ordinal)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.3)
		assert.Equal(t, "doc-a", m.DocumentID)
	}
}

func TestMemoryStore_TiesByOrdinalAndTopK(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)

	for _, ord := range []int{7, 2, 5, 0} {
		require.NoError(t, m.Upsert(ctx, point("a", ord, 1, 1)))
	}

	matches, err := m.Query(ctx, []float32{1, 1}, Query{Scope: "a", TopK: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []int{0, 2, 5}, []int{matches[0].Ordinal, matches[1].Ordinal, matches[2].Ordinal})
}

func TestMemoryStore_NonPositiveTopK(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)
	require.NoError(t, m.Upsert(ctx, point("a", 0, 1, 0)))

	for _, k := range []int{0, -1} {
		matches, err := m.Query(ctx, []float32{1, 0}, Query{Scope: "a", TopK: k})
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)

	require.NoError(t, m.Upsert(ctx, point("a", 0, 1, 0)))
	require.NoError(t, m.Upsert(ctx, point("a", 0, 1, 0)))

	n, err := m.Count(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_DeleteScopeIsRetrySafe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)

	require.NoError(t, m.Upsert(ctx, point("a", 0, 1, 0)))
	require.NoError(t, m.Upsert(ctx, point("b", 0, 1, 0)))

	require.NoError(t, m.DeleteScope(ctx, "a"))
	require.NoError(t, m.DeleteScope(ctx, "a"))
	require.NoError(t, m.DeleteScope(ctx, "never-existed"))

	n, _ := m.Count(ctx, "a")
	assert.Zero(t, n)
	n, _ = m.Count(ctx, "b")
	assert.Equal(t, 1, n)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(3)

	err := m.Upsert(ctx, point("a", 0, 1, 0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Query(ctx, []float32{1}, Query{Scope: "a", TopK: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
