package ingest

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

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/chunker"
	"github.com/bull/noteai-server/internal/embedding"
	"github.com/bull/noteai-server/internal/extract"
	"github.com/bull/noteai-server/internal/extract/extracttest"
	"github.com/bull/noteai-server/internal/lock"
	"github.com/bull/noteai-server/internal/mock"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

const testDim = 16

// textExtractor treats upload bytes as already normalized text.
type textExtractor struct {
	blobs      blob.Store
	extractErr error
}

func (e *textExtractor) Kind() extract.Kind { return extract.KindPDF }

func (e *textExtractor) Load(ctx context.Context, src extract.Source) (*extract.Raw, error) {
	data, err := e.blobs.Get(ctx, src.Ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrFetchFailed, err)
	}
	return &extract.Raw{Source: src, Data: data, MIMEType: "application/pdf"}, nil
}

func (e *textExtractor) Extract(ctx context.Context, raw *extract.Raw) (*extract.Result, error) {
	if e.extractErr != nil {
		return nil, e.extractErr
	}
	return &extract.Result{Text: string(raw.Data), Metadata: map[string]string{storage.MetaPageCount: "1"}}, nil
}

// recordingVectors remembers every scope written to and can fail deletes.
type recordingVectors struct {
	*vectorstore.MemoryStore

	mu         sync.Mutex
	scopes     map[string]bool
	failDelete atomic.Bool
}

func newRecordingVectors() *recordingVectors {
	return &recordingVectors{MemoryStore: vectorstore.NewMemoryStore(testDim), scopes: make(map[string]bool)}
}

func (v *recordingVectors) Upsert(ctx context.Context, p vectorstore.Point) error {
	v.mu.Lock()
	v.scopes[p.Scope] = true
	v.mu.Unlock()
	return v.MemoryStore.Upsert(ctx, p)
}

func (v *recordingVectors) DeleteScope(ctx context.Context, scope string) error {
	if v.failDelete.Load() {
		return vectorstore.ErrUnavailable
	}
	return v.MemoryStore.DeleteScope(ctx, scope)
}

// total counts the points of every scope ever written.
func (v *recordingVectors) total(t *testing.T) int {
	t.Helper()
	v.mu.Lock()
	scopes := make([]string, 0, len(v.scopes))
	for s := range v.scopes {
		scopes = append(scopes, s)
	}
	v.mu.Unlock()

	n := 0
	for _, s := range scopes {
		c, err := v.Count(context.Background(), s)
		require.NoError(t, err)
		n += c
	}
	return n
}

type harness struct {
	store     *storage.BadgerStore
	blobs     *blob.MemoryStore
	vectors   *recordingVectors
	embedder  *mock.Embedder
	extractor *textExtractor
	locker    *lock.Local
	c         *Coordinator
}

func testConfig() Config {
	return Config{
		Workers:          2,
		EmbedConcurrency: 4,
		SuccessThreshold: 0.9,
		LockTTL:          time.Minute,
		Chunker:          chunker.Config{MaxChars: 100, Overlap: 0, Window: 30},
		CleanupAttempts:  2,
		CleanupInterval:  time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, wrap func(embedding.Embedder) embedding.Embedder) *harness {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		blobs:    blob.NewMemoryStore(),
		vectors:  newRecordingVectors(),
		embedder: mock.NewEmbedder(testDim),
		locker:   lock.NewLocal(),
	}
	h.extractor = &textExtractor{blobs: h.blobs}

	var emb embedding.Embedder = h.embedder
	if wrap != nil {
		emb = wrap(emb)
	}
	h.c, err = New(Deps{
		Store:      store,
		Blobs:      h.blobs,
		Extractors: extract.NewRegistry(h.extractor),
		Embedder:   emb,
		Vectors:    h.vectors,
		Locker:     h.locker,
	}, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(h.c.Close)
	return h
}

// lecture builds n short Vietnamese paragraphs, each tagged with markerN.
func lecture(n int) string {
	paras := make([]string, n)
	for i := range paras {
		paras[i] = fmt.Sprintf("Đoạn %d: quang hợp giúp cây xanh tạo chất hữu cơ từ ánh sáng, marker%d.", i, i)
	}
	return strings.Join(paras, "\n\n")
}

func split(t *testing.T, text string) []chunker.Chunk {
	t.Helper()
	ch, err := chunker.New(testConfig().Chunker)
	require.NoError(t, err)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	return chunks
}

func countContaining(chunks []chunker.Chunk, marker string) int {
	n := 0
	for _, c := range chunks {
		if strings.Contains(c.Text, marker) {
			n++
		}
	}
	return n
}

func (h *harness) upload(t *testing.T, userID, text string) *storage.Document {
	t.Helper()
	doc, err := h.c.Create(context.Background(), CreateRequest{
		UserID:     userID,
		SourceType: storage.SourceUpload,
		FileName:   "lecture.pdf",
		Content:    []byte(text),
		Wait:       true,
	})
	require.NoError(t, err)
	return doc
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("quang hợp"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, ContentHash([]byte("quang hợp")))
	assert.NotEqual(t, a, ContentHash([]byte("hô hấp")))
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing user", CreateRequest{SourceType: storage.SourceUpload, FileName: "a.pdf", Content: []byte("x")}},
		{"unknown source type", CreateRequest{UserID: "u1", SourceType: "fax", SourceRef: "x"}},
		{"empty upload", CreateRequest{UserID: "u1", SourceType: storage.SourceUpload, FileName: "a.pdf"}},
		{"missing url", CreateRequest{UserID: "u1", SourceType: storage.SourceWeb, SourceRef: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.Create(ctx, tt.req)
			assert.ErrorIs(t, err, storage.ErrInvalid)
		})
	}
}

func TestLifecycle_Completes(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	text := lecture(6)

	doc := h.upload(t, "u1", text)
	assert.Equal(t, storage.StatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, string(extract.KindPDF), doc.SourceKind)
	assert.Equal(t, ContentHash([]byte(text)), doc.ContentHash)
	assert.Equal(t, "vi", doc.Metadata[storage.MetaLanguage])
	assert.Equal(t, "1", doc.Metadata[storage.MetaPageCount])
	assert.NotContains(t, doc.Metadata, storage.MetaUnindexedChunks)
	require.NotEmpty(t, doc.VectorScope)

	chunks, err := h.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, len(split(t, text)))
	assert.Equal(t, doc.TotalChunks, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, vectorstore.PointID(doc.VectorScope, c.Ordinal), c.VectorID)
	}

	n, err := h.vectors.Count(ctx, doc.VectorScope)
	require.NoError(t, err)
	assert.Equal(t, doc.TotalChunks, n)

	stored, err := h.blobs.Get(ctx, doc.OriginRef)
	require.NoError(t, err)
	assert.Equal(t, text, string(stored))
}

func TestLifecycle_ThreePagePDF(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	c, err := New(Deps{
		Store:      h.store,
		Blobs:      h.blobs,
		Extractors: extract.NewRegistry(extract.NewPDFExtractor(h.blobs, nil)),
		Embedder:   h.embedder,
		Vectors:    h.vectors,
		Locker:     h.locker,
	}, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ctx := context.Background()

	var mu sync.Mutex
	var statuses []storage.Status
	c.afterStage = func(id string, progress int) {
		doc, err := h.store.GetDocument(context.Background(), id)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		statuses = append(statuses, doc.Status)
		mu.Unlock()
	}

	doc, err := c.Create(ctx, CreateRequest{
		UserID:     "u1",
		SourceType: storage.SourceUpload,
		FileName:   "lecture.pdf",
		Content: extracttest.BuildPDF(
			"Photosynthesis turns light into chemical energy.",
			"Chlorophyll absorbs red and blue light.",
			"Oxygen is released as a by-product.",
		),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, doc.Status)

	c.Wait()
	got, err := c.Status(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, got.Status, got.ErrorMessage)
	assert.Greater(t, got.TotalChunks, 0)
	assert.Equal(t, "3", got.Metadata[storage.MetaPageCount])
	assert.Equal(t, string(extract.KindPDF), got.SourceKind)
	assert.Equal(t, "en", got.Metadata[storage.MetaLanguage])

	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.Equal(t, storage.StatusProcessing, s)
	}

	n, err := h.vectors.Count(ctx, got.VectorScope)
	require.NoError(t, err)
	assert.Equal(t, got.TotalChunks, n)
}

func TestCreate_Async(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc, err := h.c.Create(ctx, CreateRequest{
		UserID:     "u1",
		SourceType: storage.SourceUpload,
		FileName:   "lecture.pdf",
		Content:    []byte(lecture(3)),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, doc.Status)

	h.c.Wait()
	got, err := h.c.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
}

func TestCreate_AsyncDoesNotWaitForWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)
	var once sync.Once
	h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		once.Do(func() { close(started) })
		<-release
		return mock.HashVector(text, testDim), nil
	}

	create := func(text string) (*storage.Document, error) {
		return h.c.Create(ctx, CreateRequest{
			UserID:     "u1",
			SourceType: storage.SourceUpload,
			FileName:   "lecture.pdf",
			Content:    []byte(text),
		})
	}

	first, err := create(lecture(2))
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	type result struct {
		doc *storage.Document
		err error
	}
	queued := make(chan result, 2)
	go func() {
		for _, text := range []string{lecture(3), lecture(4)} {
			doc, err := create(text)
			queued <- result{doc, err}
		}
	}()
	var rest []*storage.Document
	for range 2 {
		select {
		case r := <-queued:
			require.NoError(t, r.err)
			assert.Equal(t, storage.StatusPending, r.doc.Status)
			rest = append(rest, r.doc)
		case <-time.After(time.Second):
			unblock()
			t.Fatal("create blocked while the only worker was busy")
		}
	}

	unblock()
	h.c.Wait()
	for _, doc := range append(rest, first) {
		got, err := h.c.Status(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusCompleted, got.Status)
	}
}

func TestProgress_Monotonic(t *testing.T) {
	cfg := testConfig()
	cfg.EmbedConcurrency = 1
	h := newHarness(t, cfg, nil)

	var mu sync.Mutex
	var seen []int
	h.c.afterStage = func(id string, progress int) {
		doc, err := h.store.GetDocument(context.Background(), id)
		require.NoError(t, err)
		mu.Lock()
		seen = append(seen, doc.Progress)
		mu.Unlock()
	}

	doc := h.upload(t, "u1", lecture(8))
	require.Equal(t, storage.StatusCompleted, doc.Status)

	require.NotEmpty(t, seen)
	assert.Equal(t, progressLoaded, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.LessOrEqual(t, seen[len(seen)-1], 99)
	assert.Contains(t, seen, progressExtracted)
	assert.Contains(t, seen, progressChunked)
}

func TestEmbeddingRateLimitedThenRecovers(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, testConfig(), func(inner embedding.Embedder) embedding.Embedder {
		return embedding.Retrying(inner, embedding.RetryPolicy{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		}, nil)
	})
	h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) <= 3 {
			return nil, fmt.Errorf("%w: 429", embedding.ErrRateLimited)
		}
		return mock.HashVector(text, testDim), nil
	}

	text := lecture(4)
	doc := h.upload(t, "u1", text)
	assert.Equal(t, storage.StatusCompleted, doc.Status)
	assert.Equal(t, len(split(t, text)), doc.TotalChunks)
	assert.NotContains(t, doc.Metadata, storage.MetaUnindexedChunks)
	assert.EqualValues(t, doc.TotalChunks+3, calls.Load())
}

func failOn(marker string) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, marker) {
			return nil, fmt.Errorf("%w: rejected input", embedding.ErrService)
		}
		return mock.HashVector(text, testDim), nil
	}
}

func TestThreshold_CompletesWithUnindexedChunks(t *testing.T) {
	text := lecture(10)
	chunks := split(t, text)
	failing := countContaining(chunks, "marker3")
	require.Equal(t, 1, failing)

	cfg := testConfig()
	cfg.SuccessThreshold = float64(len(chunks)-failing) / float64(len(chunks))
	h := newHarness(t, cfg, nil)
	h.embedder.EmbedFunc = failOn("marker3")

	doc := h.upload(t, "u1", text)
	require.Equal(t, storage.StatusCompleted, doc.Status, doc.ErrorMessage)
	assert.Equal(t, len(chunks)-failing, doc.TotalChunks)
	assert.Equal(t, "1", doc.Metadata[storage.MetaUnindexedChunks])

	rows, err := h.store.ListChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, rows, doc.TotalChunks)
	for _, r := range rows {
		assert.NotContains(t, r.Text, "marker3")
	}
}

func TestThreshold_FailsAndCleansUp(t *testing.T) {
	text := lecture(10)
	chunks := split(t, text)
	failing := countContaining(chunks, "marker3")
	require.Equal(t, 1, failing)

	h := newHarness(t, testConfig(), nil)
	h.c.cfg.SuccessThreshold = 1
	h.embedder.EmbedFunc = failOn("marker3")

	doc := h.upload(t, "u1", text)
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Equal(t, 0, doc.Progress)
	assert.Contains(t, doc.ErrorMessage, fmt.Sprintf("indexed %d of %d chunks", len(chunks)-1, len(chunks)))
	assert.Contains(t, doc.ErrorMessage, "rejected input")
	assert.Empty(t, doc.VectorScope)
	assert.Equal(t, 0, h.vectors.total(t))

	rows, err := h.store.ListChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// lossyStore accepts everything except completion.
type lossyStore struct {
	*storage.BadgerStore
	completeErr error
}

func (s *lossyStore) Complete(ctx context.Context, id string, chunks []*storage.Chunk, mutate func(*storage.Document)) (*storage.Document, error) {
	return nil, s.completeErr
}

func TestCompleteFailure_FailsDocument(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	c, err := New(Deps{
		Store:      &lossyStore{BadgerStore: h.store, completeErr: errors.New("Txn is too big to fit into one request")},
		Blobs:      h.blobs,
		Extractors: extract.NewRegistry(h.extractor),
		Embedder:   h.embedder,
		Vectors:    h.vectors,
		Locker:     h.locker,
	}, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	doc, err := c.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		SourceType: storage.SourceUpload,
		FileName:   "lecture.pdf",
		Content:    []byte(lecture(6)),
		Wait:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Equal(t, 0, doc.Progress)
	assert.Contains(t, doc.ErrorMessage, "complete document")
	assert.Contains(t, doc.ErrorMessage, "too big")
	assert.Empty(t, doc.VectorScope)
	assert.Equal(t, 0, h.vectors.total(t))

	stored, err := h.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, stored.Status)
}

func TestTotalEmbeddingFailure(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, embedding.ErrService
	}

	doc := h.upload(t, "u1", lecture(3))
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "indexed 0 of")
	assert.Equal(t, 0, doc.TotalChunks)
}

func TestExtractionFailure(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.extractor.extractErr = fmt.Errorf("%w: broken xref table", extract.ErrCorruptSource)

	doc := h.upload(t, "u1", lecture(3))
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "corrupt source")
	assert.Equal(t, 0, h.embedder.CallCount())
	assert.Equal(t, 0, h.vectors.total(t))
}

func TestEmptyExtractionFails(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	doc := h.upload(t, "u1", "   \n\n  ")
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "corrupt source")
}

func TestUnsupportedFormat(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	doc, err := h.c.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		SourceType: storage.SourceUpload,
		FileName:   "notes.doc",
		Content:    []byte("legacy"),
		Wait:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "unsupported format")
	assert.Empty(t, doc.SourceKind)
}

func TestDedup_ReusesChunksAndScope(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	text := lecture(5)

	first := h.upload(t, "u1", text)
	require.Equal(t, storage.StatusCompleted, first.Status)
	calls := h.embedder.CallCount()

	second := h.upload(t, "u1", text)
	require.Equal(t, storage.StatusCompleted, second.Status)
	assert.Equal(t, calls, h.embedder.CallCount())
	assert.Equal(t, first.ID, second.Metadata[storage.MetaDedupOf])
	assert.Equal(t, first.VectorScope, second.VectorScope)
	assert.Equal(t, first.TotalChunks, second.TotalChunks)
	assert.Equal(t, "vi", second.Metadata[storage.MetaLanguage])

	rows, err := h.store.ListChunks(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, rows, first.TotalChunks)
	assert.Equal(t, second.ID, rows[0].DocumentID)

	other := h.upload(t, "u2", text)
	assert.NotContains(t, other.Metadata, storage.MetaDedupOf)
	assert.NotEqual(t, first.VectorScope, other.VectorScope)

	// Shared vectors survive until the last referencing document goes.
	require.NoError(t, h.c.Delete(ctx, first.ID))
	n, err := h.vectors.Count(ctx, first.VectorScope)
	require.NoError(t, err)
	assert.Equal(t, first.TotalChunks, n)

	require.NoError(t, h.c.Delete(ctx, second.ID))
	n, err = h.vectors.Count(ctx, first.VectorScope)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDelete_RemovesEverything(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc := h.upload(t, "u1", lecture(4))
	require.NoError(t, h.c.Delete(ctx, doc.ID))

	_, err := h.c.Status(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.blobs.Get(ctx, doc.OriginRef)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.Equal(t, 0, h.vectors.total(t))

	assert.ErrorIs(t, h.c.Delete(ctx, doc.ID), storage.ErrNotFound)
}

func TestDelete_WhileProcessingAborts(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	h.c.afterStage = func(id string, progress int) {
		if progress == progressChunked {
			require.NoError(t, h.c.Delete(ctx, id))
		}
	}

	_, err := h.c.Create(ctx, CreateRequest{
		UserID:     "u1",
		SourceType: storage.SourceUpload,
		FileName:   "lecture.pdf",
		Content:    []byte(lecture(6)),
		Wait:       true,
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 0, h.vectors.total(t))

	docs, err := h.store.ListDocuments(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReingest(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc := h.upload(t, "u1", lecture(4))
	oldScope := doc.VectorScope

	again, err := h.c.Reingest(ctx, doc.ID, true)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, again.Status)
	assert.NotEqual(t, oldScope, again.VectorScope)
	assert.Equal(t, doc.TotalChunks, again.TotalChunks)
	assert.NotContains(t, again.Metadata, storage.MetaDedupOf)

	n, err := h.vectors.Count(ctx, oldScope)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = h.vectors.Count(ctx, again.VectorScope)
	require.NoError(t, err)
	assert.Equal(t, again.TotalChunks, n)
}

func TestReingest_RecoversFailedDocument(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.extractor.extractErr = extract.ErrCorruptSource

	doc := h.upload(t, "u1", lecture(3))
	require.Equal(t, storage.StatusFailed, doc.Status)

	h.extractor.extractErr = nil
	again, err := h.c.Reingest(context.Background(), doc.ID, true)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, again.Status)
	assert.Empty(t, again.ErrorMessage)
}

func TestReingest_RejectsNonTerminal(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc := &storage.Document{UserID: "u1", SourceType: storage.SourceUpload, OriginRef: "uploads/x/a.pdf", FileName: "a.pdf"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))

	_, err := h.c.Reingest(ctx, doc.ID, true)
	assert.ErrorIs(t, err, ErrBusy)

	_, err = h.c.Reingest(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcess_BusyWhenLocked(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc := &storage.Document{UserID: "u1", SourceType: storage.SourceUpload, OriginRef: "uploads/x/a.pdf", FileName: "a.pdf"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))

	ok, err := h.locker.TryAcquire(ctx, lockName(doc.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.c.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrBusy)

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
}

func TestResume(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	// A document a crashed process left processing, with a vector written.
	stuck := &storage.Document{UserID: "u1", SourceType: storage.SourceUpload, OriginRef: "uploads/s/a.pdf", FileName: "a.pdf"}
	require.NoError(t, h.store.CreateDocument(ctx, stuck))
	_, err := h.store.Transition(ctx, stuck.ID, storage.StatusPending, storage.StatusProcessing, func(d *storage.Document) {
		d.VectorScope = "stale-scope"
		d.Progress = 40
	})
	require.NoError(t, err)
	require.NoError(t, h.vectors.Upsert(ctx, vectorstore.Point{
		ID: vectorstore.PointID("stale-scope", 0), Scope: "stale-scope", DocumentID: stuck.ID,
		Vector: mock.HashVector("x", testDim),
	}))

	// A document that was accepted but never started.
	require.NoError(t, h.blobs.Put(ctx, "uploads/p/b.pdf", []byte(lecture(3))))
	pending := &storage.Document{UserID: "u1", SourceType: storage.SourceUpload, OriginRef: "uploads/p/b.pdf", FileName: "b.pdf"}
	require.NoError(t, h.store.CreateDocument(ctx, pending))

	failed, queued, err := h.c.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, queued)
	h.c.Wait()

	got, err := h.store.GetDocument(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Equal(t, "ingestion interrupted", got.ErrorMessage)
	assert.Equal(t, 0, got.Progress)
	n, err := h.vectors.Count(ctx, "stale-scope")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err = h.store.GetDocument(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
}

func TestOrphanScopes_RecordedAndSwept(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	doc := h.upload(t, "u1", lecture(3))
	scope := doc.VectorScope

	h.vectors.failDelete.Store(true)
	require.NoError(t, h.c.Delete(ctx, doc.ID))

	orphans, err := h.store.ListOrphanScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{scope}, orphans)

	removed, err := h.c.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	h.vectors.failDelete.Store(false)
	removed, err = h.c.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := h.vectors.Count(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	orphans, err = h.store.ListOrphanScopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestClose_RejectsNewWork(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.c.Close()

	_, err := h.c.Create(context.Background(), CreateRequest{UserID: "u1", SourceType: storage.SourceWeb, SourceRef: "https://example.com"})
	assert.True(t, errors.Is(err, ErrClosed))
}
