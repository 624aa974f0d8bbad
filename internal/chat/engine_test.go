package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/mock"
	"github.com/bull/noteai-server/internal/prompt"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

const testDim = 64

var passages = []string{
	"Quang hợp là quá trình cây xanh dùng ánh sáng để tạo ra glucose và oxy.",
	"Diệp lục trong lục lạp hấp thụ ánh sáng mặt trời.",
	"Photosynthesis converts light energy into chemical energy stored in glucose.",
}

type fixture struct {
	store     *storage.BadgerStore
	vectors   *vectorstore.MemoryStore
	embedder  *mock.Embedder
	generator *mock.Generator
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:     store,
		vectors:   vectorstore.NewMemoryStore(testDim),
		embedder:  mock.NewEmbedder(testDim),
		generator: mock.NewGenerator(),
	}
	f.engine = New(store, f.embedder, f.vectors, f.generator, language.New(language.Vietnamese, 0), DefaultConfig(), nil)
	return f
}

// completedDocument stores a completed document whose chunks are indexed.
func (f *fixture) completedDocument(t *testing.T) *storage.Document {
	t.Helper()
	ctx := context.Background()
	doc := &storage.Document{UserID: "u1", SourceType: storage.SourceUpload, OriginRef: "uploads/d/bio.pdf", FileName: "bio.pdf"}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	scope := "scope-" + doc.ID
	_, err := f.store.Transition(ctx, doc.ID, storage.StatusPending, storage.StatusProcessing, func(d *storage.Document) {
		d.VectorScope = scope
	})
	require.NoError(t, err)

	rows := make([]*storage.Chunk, len(passages))
	for i, text := range passages {
		require.NoError(t, f.vectors.Upsert(ctx, vectorstore.Point{
			ID:         vectorstore.PointID(scope, i),
			Scope:      scope,
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       text,
			Vector:     mock.HashVector(text, testDim),
		}))
		rows[i] = &storage.Chunk{Ordinal: i, Text: text, VectorID: vectorstore.PointID(scope, i)}
	}
	done, err := f.store.Complete(ctx, doc.ID, rows, nil)
	require.NoError(t, err)
	return done
}

func (f *fixture) session(t *testing.T, doc *storage.Document) *storage.ChatSession {
	t.Helper()
	s, err := f.engine.CreateSession(context.Background(), doc.ID, "", "Ôn tập")
	require.NoError(t, err)
	return s
}

func TestSend_OrderAndHistory(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	s := f.session(t, doc)
	ctx := context.Background()

	a, err := f.engine.Send(ctx, s.ID, "Quang hợp tạo ra gì?")
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAssistant, a.Role)
	assert.True(t, strings.HasPrefix(a.Content, "Theo tài liệu:"), a.Content)
	require.NotNil(t, a.Metadata)
	assert.Equal(t, "vi", a.Metadata.Language)
	assert.Positive(t, a.Metadata.RetrievedChunkCount)
	require.NotNil(t, a.Metadata.RelevanceScore)
	assert.GreaterOrEqual(t, *a.Metadata.RelevanceScore, 0.3)
	require.NotNil(t, a.Metadata.Confidence)

	_, err = f.engine.Send(ctx, s.ID, "What does photosynthesis convert light energy into?")
	require.NoError(t, err)

	msgs, err := f.engine.Messages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	roles := []storage.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role}
	assert.Equal(t, []storage.Role{storage.RoleUser, storage.RoleAssistant, storage.RoleUser, storage.RoleAssistant}, roles)
	assert.Equal(t, "Quang hợp tạo ra gì?", msgs[0].Content)
	assert.Equal(t, "What does photosynthesis convert light energy into?", msgs[2].Content)
	assert.Equal(t, "en", msgs[3].Metadata.Language)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}

	reqs := f.generator.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, generation.RoleAssistant, reqs[1].Messages[1].Role)
	assert.InDelta(t, 0.7, reqs[1].Temperature, 1e-9)
	assert.Contains(t, reqs[1].System, "Respond only in English (en).")

	page, err := f.engine.Messages(ctx, s.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, msgs[1].ID, page[0].ID)
}

func TestSend_NoRelevantChunks(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	s := f.session(t, doc)

	a, err := f.engine.Send(context.Background(), s.ID, "zzz qqq xxx")
	require.NoError(t, err)
	assert.Equal(t, 0, a.Metadata.RetrievedChunkCount)
	assert.Nil(t, a.Metadata.RelevanceScore)
	assert.Equal(t, prompt.NotFoundPhrase(language.Tag(a.Metadata.Language)), a.Content)
}

func TestSend_GenerationFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	s := f.session(t, doc)
	ctx := context.Background()

	f.generator.GenerateFunc = func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
		return nil, fmt.Errorf("%w: upstream 500", generation.ErrGeneration)
	}

	_, err := f.engine.Send(ctx, s.ID, "Quang hợp là gì?")
	assert.ErrorIs(t, err, ErrGeneration)

	msgs, err := f.engine.Messages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
}

func TestSend_RetrievalFailure(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	s := f.session(t, doc)
	ctx := context.Background()

	f.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("connection reset")
	}

	_, err := f.engine.Send(ctx, s.ID, "Quang hợp là gì?")
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Equal(t, 0, f.generator.CallCount())

	msgs, err := f.engine.Messages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSend_DocumentNotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := &storage.Document{UserID: "u1", SourceType: storage.SourceWeb, OriginRef: "https://example.com/a"}
	require.NoError(t, f.store.CreateDocument(ctx, doc))
	s := f.session(t, doc)

	_, err := f.engine.Send(ctx, s.ID, "Quang hợp là gì?")
	assert.ErrorIs(t, err, ErrDocumentNotReady)
	assert.True(t, IsClientError(err))

	msgs, err := f.engine.Messages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 0, f.embedder.CallCount())
}

func TestSend_NotFoundAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Send(ctx, "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Send(ctx, "missing", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.engine.CreateSession(ctx, "missing", "u1", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Messages(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSend_SerializedPerSession(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	s := f.session(t, doc)
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	f.generator.GenerateFunc = func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		question := req.Messages[len(req.Messages)-1].Content
		return &generation.Completion{Text: "answer to " + question}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Send(ctx, s.ID, fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())

	msgs, err := f.engine.Messages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 12)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, storage.RoleUser, msgs[i].Role)
		assert.Equal(t, storage.RoleAssistant, msgs[i+1].Role)
		assert.Equal(t, "answer to "+msgs[i].Content, msgs[i+1].Content)
	}
}

func TestSend_SessionsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	first := f.session(t, doc)
	second := f.session(t, doc)
	ctx := context.Background()

	secondStarted := make(chan struct{})
	f.generator.GenerateFunc = func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
		if req.Messages[len(req.Messages)-1].Content == "first" {
			select {
			case <-secondStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New("second session never ran")
			}
			return &generation.Completion{Text: "one"}, nil
		}
		close(secondStarted)
		return &generation.Completion{Text: "two"}, nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := f.engine.Send(ctx, first.ID, "first")
		errc <- err
	}()

	_, err := f.engine.Send(ctx, second.ID, "second")
	require.NoError(t, err)
	assert.NoError(t, <-errc)
}

func TestSessions_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	doc := f.completedDocument(t)
	ctx := context.Background()

	a := f.session(t, doc)
	b := f.session(t, doc)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, "Ôn tập", a.Title)

	sessions, err := f.engine.ListSessions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	_, err = f.engine.Send(ctx, a.ID, "Quang hợp là gì?")
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteSession(ctx, a.ID))

	_, err = f.engine.GetSession(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.engine.DeleteSession(ctx, a.ID), ErrNotFound)

	sessions, err = f.engine.ListSessions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, b.ID, sessions[0].ID)
}
