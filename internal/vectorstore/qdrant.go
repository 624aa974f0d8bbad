package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultCollection holds the chunks of every document.
	DefaultCollection = "noteai_chunks"

	vectorName = "content"
	metaPrefix = "meta_"
)

// QdrantConfig configures the gRPC connection and collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
	// MaxRetryElapsed bounds retries of a single operation. Defaults to 30s.
	MaxRetryElapsed time.Duration
}

// QdrantStore wraps the Qdrant client with connection management and health checks.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	maxElapsed time.Duration
	logger     *slog.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and validates health with retry on
// startup. It fails fast if Qdrant stays unreachable.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		maxElapsed: cfg.MaxRetryElapsed,
		logger:     logger.With("component", "qdrant", "collection", cfg.Collection),
	}

	if err := s.retry(ctx, func() error { return s.Health(ctx) }); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return s, nil
}

// newBackOff is the shared policy: initial interval 500ms, max interval 10s.
func (s *QdrantStore) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = s.maxElapsed
	return backoff.WithContext(b, ctx)
}

// retry runs op until it succeeds, returns a permanent error, or the policy
// is exhausted. Client-side gRPC errors are not retried.
func (s *QdrantStore) retry(ctx context.Context, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("qdrant operation failed, retrying", "attempt", attempt, "error", err)
		return err
	}, s.newBackOff(ctx))
}

func retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return false
	}
	return true
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with a cosine "content" vector and
// keyword indexes on scope and document_id. It is idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Every query and delete filters on these fields.
	for _, field := range []string{"scope", "document_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	s.logger.Info("created collection", "dimension", s.dimension)
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upsert stores one chunk vector under its deterministic point id.
func (s *QdrantStore) Upsert(ctx context.Context, p Point) error {
	if len(p.Vector) != s.dimension {
		return fmt.Errorf("%w: point has %d dimensions, expected %d",
			ErrDimensionMismatch, len(p.Vector), s.dimension)
	}

	payload := map[string]any{
		"scope":       p.Scope,
		"document_id": p.DocumentID,
		"ordinal":     p.Ordinal,
		"text":        p.Text,
	}
	for k, v := range p.Meta {
		payload[metaPrefix+k] = v
	}

	point := &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorName: qdrant.NewVector(p.Vector...),
		}),
		Payload: qdrant.NewValueMap(payload),
	}

	err := s.retry(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, p.ID, err)
	}
	return nil
}

// Query searches one scope. It over-fetches so that ties at the cut-off can
// be re-ordered by ordinal before truncating.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, q Query) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if q.TopK <= 0 {
		return nil, nil
	}

	threshold := float32(q.ScoreThreshold)
	name := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Using:          &name,
		Filter:         scopeFilter(q.Scope),
		Limit:          qdrant.PtrOf(uint64(q.TopK*2 + 4)),
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		matches = append(matches, Match{
			ID:         result.Id.GetUuid(),
			DocumentID: payload["document_id"].GetStringValue(),
			Ordinal:    int(payload["ordinal"].GetIntegerValue()),
			Text:       payload["text"].GetStringValue(),
			Score:      float64(result.Score),
		})
	}
	return rank(matches, q), nil
}

// DeleteScope removes all points of a scope by filter.
func (s *QdrantStore) DeleteScope(ctx context.Context, scope string) error {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	err := s.retry(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(scopeFilter(scope)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: delete scope %s: %v", ErrUnavailable, scope, err)
	}
	return nil
}

// Count returns the exact number of points in a scope.
func (s *QdrantStore) Count(ctx context.Context, scope string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         scopeFilter(scope),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func scopeFilter(scope string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("scope", scope),
		},
	}
}
