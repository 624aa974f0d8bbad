// Package vectorstore indexes chunk embeddings and answers scoped similarity
// queries.
package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable is returned when the vector database cannot be reached
	// after retries.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch is returned when a vector does not match the
	// collection's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Point is one indexed chunk.
type Point struct {
	ID         string
	Scope      string
	DocumentID string
	Ordinal    int
	Text       string
	Vector     []float32
	Meta       map[string]string
}

// Query restricts a similarity search to one scope.
type Query struct {
	Scope          string
	TopK           int
	ScoreThreshold float64
}

// Match is a query hit.
type Match struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Score      float64
}

// Store is implemented by Qdrant and by an in-memory index.
type Store interface {
	// Upsert is idempotent on Point.ID.
	Upsert(ctx context.Context, p Point) error
	// Query returns at most TopK matches with Score >= ScoreThreshold, by
	// descending score with ties in ascending ordinal order. A TopK of zero
	// or less returns no matches.
	Query(ctx context.Context, vector []float32, q Query) ([]Match, error)
	// DeleteScope removes every point of a scope. Deleting an absent scope
	// succeeds.
	DeleteScope(ctx context.Context, scope string) error
	Count(ctx context.Context, scope string) (int, error)
}

var pointNamespace = uuid.MustParse("6f1b7d0e-3c52-4b8e-9a57-2d1c0c9f4e21")

// PointID derives the deterministic vector id of a chunk, so re-upserting the
// same chunk overwrites rather than duplicates.
func PointID(scope string, ordinal int) string {
	return uuid.NewSHA1(pointNamespace, []byte(scope+"/"+strconv.Itoa(ordinal))).String()
}

// rank orders matches by score desc then ordinal asc, drops those under the
// threshold and truncates to topK.
func rank(matches []Match, q Query) []Match {
	if q.TopK <= 0 {
		return nil
	}
	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= q.ScoreThreshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Ordinal < kept[j].Ordinal
	})
	if len(kept) > q.TopK {
		kept = kept[:q.TopK]
	}
	return kept
}
