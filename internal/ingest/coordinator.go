// Package ingest drives documents through extraction, chunking, embedding
// and indexing. The Coordinator is the only writer of document status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/chunker"
	"github.com/bull/noteai-server/internal/embedding"
	"github.com/bull/noteai-server/internal/extract"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/lock"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

// Config tunes the coordinator.
type Config struct {
	Workers          int
	EmbedConcurrency int
	// SuccessThreshold is the fraction of chunks that must be indexed for a
	// document to complete.
	SuccessThreshold float64
	LockTTL          time.Duration
	Chunker          chunker.Config
	// CleanupAttempts bounds vector deletion before a scope becomes an orphan.
	CleanupAttempts int
	CleanupInterval time.Duration
}

// DefaultConfig returns 4 workers, 8 concurrent embeddings and a 0.9 threshold.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		EmbedConcurrency: 8,
		SuccessThreshold: 0.9,
		LockTTL:          30 * time.Minute,
		Chunker:          chunker.DefaultConfig(),
		CleanupAttempts:  3,
		CleanupInterval:  200 * time.Millisecond,
	}
}

// Deps are the coordinator's collaborators.
type Deps struct {
	Store      storage.DocumentStore
	Blobs      blob.Store
	Extractors *extract.Registry
	Embedder   embedding.Embedder
	Vectors    vectorstore.Store
	Locker     lock.Locker
	Detector   *language.Detector
}

// Coordinator runs ingestion jobs on a bounded pool.
type Coordinator struct {
	store      storage.DocumentStore
	blobs      blob.Store
	extractors *extract.Registry
	chunker    *chunker.Chunker
	embedder   embedding.Embedder
	vectors    vectorstore.Store
	locker     lock.Locker
	detector   *language.Detector

	pool      *ants.Pool
	embedPool *ants.Pool
	jobs      sync.WaitGroup
	closed    atomic.Bool

	// queued ids wait here for the dispatcher, which feeds the pool.
	queueMu    sync.Mutex
	queue      []string
	wake       chan struct{}
	stop       chan struct{}
	dispatched chan struct{}

	cfg    Config
	logger *slog.Logger

	// afterStage is a test hook run after each progress checkpoint.
	afterStage func(id string, progress int)
}

// New creates a coordinator. Locker and Detector default to in-process
// implementations.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Extractors == nil || deps.Embedder == nil || deps.Vectors == nil {
		return nil, errors.New("ingest: store, extractors, embedder and vectors are required")
	}
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.EmbedConcurrency < 1 {
		cfg.EmbedConcurrency = def.EmbedConcurrency
	}
	if cfg.SuccessThreshold <= 0 || cfg.SuccessThreshold > 1 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker = def.Chunker
	}
	if cfg.CleanupAttempts < 1 {
		cfg.CleanupAttempts = def.CleanupAttempts
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Detector == nil {
		deps.Detector = language.New(language.Vietnamese, 0)
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewMemoryStore()
	}

	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	embedPool, err := ants.NewPool(cfg.EmbedConcurrency)
	if err != nil {
		pool.Release()
		return nil, err
	}

	c := &Coordinator{
		store:      deps.Store,
		blobs:      deps.Blobs,
		extractors: deps.Extractors,
		chunker:    ch,
		embedder:   deps.Embedder,
		vectors:    deps.Vectors,
		locker:     deps.Locker,
		detector:   deps.Detector,
		pool:       pool,
		embedPool:  embedPool,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		dispatched: make(chan struct{}),
		cfg:        cfg,
		logger:     logger.With("component", "ingest"),
	}
	go c.dispatch()
	return c, nil
}

// CreateRequest describes a new document. Uploads carry Content and
// FileName; URL sources carry SourceRef.
type CreateRequest struct {
	UserID     string
	SourceType storage.SourceType
	SourceRef  string
	FileName   string
	Content    []byte
	// Wait processes the document inline and returns it in a terminal state.
	Wait bool
}

// Create persists a pending document and schedules it. Upload bytes go to
// the blob store first. Unsupported formats still create the document; the
// run fails it with the classified error.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*storage.Document, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalid)
	}
	if !req.SourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown source type %q", storage.ErrInvalid, req.SourceType)
	}

	doc := &storage.Document{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		SourceType: req.SourceType,
		FileName:   req.FileName,
	}

	if req.SourceType == storage.SourceUpload {
		if len(req.Content) == 0 {
			return nil, fmt.Errorf("%w: upload content is empty", storage.ErrInvalid)
		}
		if doc.FileName == "" {
			doc.FileName = path.Base(req.SourceRef)
		}
		key := "uploads/" + doc.ID + "/" + sanitizeName(doc.FileName)
		if err := c.blobs.Put(ctx, key, req.Content); err != nil {
			return nil, fmt.Errorf("store upload: %w", err)
		}
		doc.OriginRef = key
	} else {
		if strings.TrimSpace(req.SourceRef) == "" {
			return nil, fmt.Errorf("%w: source url is required", storage.ErrInvalid)
		}
		doc.OriginRef = strings.TrimSpace(req.SourceRef)
	}

	if kind, err := extract.Resolve(doc.SourceType, doc.OriginRef, doc.FileName); err == nil {
		doc.SourceKind = string(kind)
	}

	if err := c.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	c.logger.Info("document created", "document", doc.ID, "source_type", doc.SourceType, "kind", doc.SourceKind)

	if req.Wait {
		return c.Process(ctx, doc.ID)
	}
	if err := c.Enqueue(doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

// Enqueue schedules a pending document and returns without waiting for a
// free worker. Jobs start in enqueue order.
func (c *Coordinator) Enqueue(id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.jobs.Add(1)
	c.queueMu.Lock()
	c.queue = append(c.queue, id)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// dispatch moves queued ids onto the pool. Submit blocks while every worker
// is busy, so only this goroutine waits.
func (c *Coordinator) dispatch() {
	defer close(c.dispatched)
	for {
		id, ok := c.next()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.stop:
				return
			}
		}
		err := c.pool.Submit(func() {
			defer c.jobs.Done()
			if _, err := c.Process(context.Background(), id); err != nil {
				c.logger.Warn("ingestion finished with error", "document", id, "error", err)
			}
		})
		if err != nil {
			c.jobs.Done()
			c.logger.Error("failed to submit ingestion job, document stays pending", "document", id, "error", err)
		}
	}
}

func (c *Coordinator) next() (string, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return "", false
	}
	id := c.queue[0]
	c.queue = c.queue[1:]
	return id, true
}

// Status reads the committed state of a document.
func (c *Coordinator) Status(ctx context.Context, id string) (*storage.Document, error) {
	return c.store.GetDocument(ctx, id)
}

// Delete removes a document with its chunks, sessions, upload bytes and,
// when no other document shares them, its vectors. A run in flight notices
// at its next stage and aborts.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	doc, err := c.store.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.SourceType == storage.SourceUpload && doc.OriginRef != "" {
		if err := c.blobs.Delete(ctx, doc.OriginRef); err != nil {
			c.logger.Warn("failed to delete upload", "document", id, "key", doc.OriginRef, "error", err)
		}
	}
	c.cleanupScope(ctx, doc.VectorScope)
	c.logger.Info("document deleted", "document", id)
	return nil
}

// Reingest resets a terminal document to pending and schedules a fresh run.
// With wait it runs inline and returns the terminal document.
func (c *Coordinator) Reingest(ctx context.Context, id string, wait bool) (*storage.Document, error) {
	prev, err := c.store.Reset(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return nil, err
	}
	c.cleanupScope(ctx, prev.VectorScope)
	c.logger.Info("document reset for reingestion", "document", id)

	if wait {
		return c.Process(ctx, id)
	}
	if err := c.Enqueue(id); err != nil {
		return nil, err
	}
	return c.store.GetDocument(ctx, id)
}

// Resume fails documents left processing by a previous process and
// re-enqueues pending ones. Documents whose lock is still held elsewhere are
// left alone.
func (c *Coordinator) Resume(ctx context.Context) (failed, queued int, err error) {
	stuck, err := c.store.ListDocuments(ctx, storage.StatusProcessing)
	if err != nil {
		return 0, 0, err
	}
	for _, doc := range stuck {
		ok, err := c.locker.TryAcquire(ctx, lockName(doc.ID), c.cfg.LockTTL)
		if err != nil || !ok {
			continue
		}
		_, terr := c.store.Transition(ctx, doc.ID, storage.StatusProcessing, storage.StatusFailed, func(d *storage.Document) {
			d.ErrorMessage = "ingestion interrupted"
			d.VectorScope = ""
		})
		_ = c.locker.Release(ctx, lockName(doc.ID))
		if terr != nil {
			c.logger.Warn("failed to mark interrupted document", "document", doc.ID, "error", terr)
			continue
		}
		c.cleanupScope(ctx, doc.VectorScope)
		failed++
	}

	pending, err := c.store.ListDocuments(ctx, storage.StatusPending)
	if err != nil {
		return failed, 0, err
	}
	for _, doc := range pending {
		if err := c.Enqueue(doc.ID); err != nil {
			return failed, queued, err
		}
		queued++
	}
	if failed > 0 || queued > 0 {
		c.logger.Info("resumed ingestion", "interrupted", failed, "queued", queued)
	}
	return failed, queued, nil
}

// Close waits for in-flight jobs and releases both pools.
func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.jobs.Wait()
	close(c.stop)
	<-c.dispatched
	c.pool.Release()
	c.embedPool.Release()
}

// Wait blocks until every queued job has finished.
func (c *Coordinator) Wait() {
	c.jobs.Wait()
}

func lockName(id string) string {
	return "ingest:" + id
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.Contains(name, "..") {
		return "upload"
	}
	return name
}
