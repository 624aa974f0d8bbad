package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryStore is an in-process cosine index. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point // by point id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty index. A dimension of 0 accepts the
// dimension of the first upserted vector.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, points: make(map[string]Point)}
}

func (m *MemoryStore) Upsert(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension == 0 {
		m.dimension = len(p.Vector)
	}
	if len(p.Vector) != m.dimension {
		return fmt.Errorf("%w: point has %d dimensions, expected %d",
			ErrDimensionMismatch, len(p.Vector), m.dimension)
	}

	p.Vector = append([]float32(nil), p.Vector...)
	m.points[p.ID] = p
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, vector []float32, q Query) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), m.dimension)
	}

	var matches []Match
	for _, p := range m.points {
		if p.Scope != q.Scope {
			continue
		}
		matches = append(matches, Match{
			ID:         p.ID,
			DocumentID: p.DocumentID,
			Ordinal:    p.Ordinal,
			Text:       p.Text,
			Score:      cosine(vector, p.Vector),
		})
	}
	return rank(matches, q), nil
}

func (m *MemoryStore) DeleteScope(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.points {
		if p.Scope == scope {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, scope string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.points {
		if p.Scope == scope {
			n++
		}
	}
	return n, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
