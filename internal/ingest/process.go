package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/noteai-server/internal/chunker"
	"github.com/bull/noteai-server/internal/extract"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

// Pipeline progress checkpoints.
const (
	progressStarted   = 5
	progressLoaded    = 10
	progressExtracted = 20
	progressChunked   = 30
	progressIndexSpan = 65
)

// run is the state of one ingestion attempt.
type run struct {
	c      *Coordinator
	id     string
	doc    *storage.Document
	scope  string // scope currently referenced by the document
	fresh  string // scope created for this run
	lang   string
	logger *slog.Logger
}

// Process runs one document from pending to a terminal state and returns it.
// A failed document is a normal outcome and comes back with a nil error.
// A store error in the middle of a run also fails the document. Errors are
// reserved for runs that never reached a terminal state: ErrBusy, ErrAborted,
// or a store that could not record the failure either.
func (c *Coordinator) Process(ctx context.Context, id string) (*storage.Document, error) {
	ok, err := c.locker.TryAcquire(ctx, lockName(id), c.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire document lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	stop := c.keepAlive(ctx, id)
	defer stop()

	scope := uuid.NewString()
	doc, err := c.store.Transition(ctx, id, storage.StatusPending, storage.StatusProcessing, func(d *storage.Document) {
		d.Progress = progressStarted
		d.VectorScope = scope
		d.ErrorMessage = ""
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("start ingestion: %w", err)
	}

	r := &run{
		c:      c,
		id:     id,
		doc:    doc,
		scope:  scope,
		fresh:  scope,
		logger: c.logger.With("document", id),
	}
	start := time.Now()
	final, err := r.execute(ctx)
	if err != nil && !errors.Is(err, ErrAborted) {
		r.logger.Error("ingestion stage failed", "error", err)
		final, err = r.fail(ctx, err)
	}
	if err != nil {
		if errors.Is(err, ErrAborted) {
			r.logger.Info("ingestion aborted, document was deleted")
			c.cleanupScope(context.WithoutCancel(ctx), r.scope)
		}
		return nil, err
	}

	if final.Status == storage.StatusCompleted {
		r.logger.Info("document completed",
			"chunks", final.TotalChunks,
			"unindexed", final.Metadata[storage.MetaUnindexedChunks],
			"dedup_of", final.Metadata[storage.MetaDedupOf],
			"duration", time.Since(start),
		)
	} else {
		r.logger.Warn("document failed", "error", final.ErrorMessage, "duration", time.Since(start))
	}
	return final, nil
}

// keepAlive extends the document lock until the returned stop is called,
// which also releases it.
func (c *Coordinator) keepAlive(ctx context.Context, id string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.locker.Extend(context.WithoutCancel(ctx), lockName(id), c.cfg.LockTTL); err != nil {
					c.logger.Warn("failed to extend document lock", "document", id, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		if err := c.locker.Release(context.WithoutCancel(ctx), lockName(id)); err != nil {
			c.logger.Warn("failed to release document lock", "document", id, "error", err)
		}
	}
}

func (r *run) execute(ctx context.Context) (*storage.Document, error) {
	c := r.c
	doc := r.doc

	kind, err := extract.Resolve(doc.SourceType, doc.OriginRef, doc.FileName)
	if err != nil {
		return r.fail(ctx, err)
	}
	ex, err := c.extractors.Get(kind)
	if err != nil {
		return r.fail(ctx, err)
	}

	raw, err := ex.Load(ctx, extract.Source{Kind: kind, Ref: doc.OriginRef, FileName: doc.FileName})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("load source: %w", err))
	}
	hash := ContentHash(raw.Data)
	if err := r.advance(ctx, progressLoaded, func(d *storage.Document) {
		d.SourceKind = string(kind)
		d.ContentHash = hash
	}); err != nil {
		return nil, err
	}

	if final, reused, err := r.reuse(ctx, hash); err != nil || reused {
		return final, err
	}

	res, err := ex.Extract(ctx, raw)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("extract text: %w", err))
	}
	r.lang = string(c.detector.Detect(res.Text))
	if err := r.advance(ctx, progressExtracted, func(d *storage.Document) {
		for k, v := range res.Metadata {
			d.SetMeta(k, v)
		}
		d.SetMeta(storage.MetaLanguage, r.lang)
	}); err != nil {
		return nil, err
	}

	chunks, err := c.chunker.Split(res.Text)
	if err != nil {
		if errors.Is(err, chunker.ErrEmptyText) {
			err = fmt.Errorf("%w: %v", extract.ErrCorruptSource, err)
		}
		return r.fail(ctx, fmt.Errorf("chunk text: %w", err))
	}
	if err := r.advance(ctx, progressChunked, nil); err != nil {
		return nil, err
	}
	r.logger.Debug("document chunked", "kind", kind, "chunks", len(chunks), "language", r.lang)

	outcome, err := r.index(ctx, chunks)
	if err != nil {
		return nil, err
	}
	rows, firstErr := outcome.rows, outcome.firstErr

	total := len(chunks)
	indexed := len(rows)
	if indexed >= 1 && float64(indexed)/float64(total) >= c.cfg.SuccessThreshold {
		final, err := c.store.Complete(ctx, doc.ID, rows, func(d *storage.Document) {
			if unindexed := total - indexed; unindexed > 0 {
				d.SetMeta(storage.MetaUnindexedChunks, strconv.Itoa(unindexed))
			}
		})
		if err != nil {
			return nil, r.classify(fmt.Errorf("complete document: %w", err))
		}
		if firstErr != nil {
			r.logger.Warn("document completed with unindexed chunks", "indexed", indexed, "total", total, "error", firstErr)
		}
		return final, nil
	}
	if firstErr == nil {
		firstErr = errors.New("no chunks indexed")
	}
	return r.fail(ctx, fmt.Errorf("indexed %d of %d chunks: %w", indexed, total, firstErr))
}

// advance raises progress and applies mutate. The read inside the store
// transaction doubles as the cancellation checkpoint.
func (r *run) advance(ctx context.Context, progress int, mutate func(*storage.Document)) error {
	doc, err := r.c.store.UpdateProcessing(ctx, r.id, func(d *storage.Document) {
		d.Progress = progress
		if mutate != nil {
			mutate(d)
		}
	})
	if err != nil {
		return r.classify(fmt.Errorf("update progress: %w", err))
	}
	r.doc = doc
	if r.c.afterStage != nil {
		r.c.afterStage(doc.ID, doc.Progress)
	}
	return nil
}

// classify turns a vanished or externally moved document into ErrAborted.
func (r *run) classify(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrStatusConflict) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return err
}

// reuse completes the document from a completed duplicate of the same user.
// It adopts the duplicate's scope before reading its chunks, so a concurrent
// delete of the duplicate keeps the shared vectors.
func (r *run) reuse(ctx context.Context, hash string) (*storage.Document, bool, error) {
	c := r.c
	orig, err := c.store.FindCompletedByHash(ctx, r.doc.UserID, hash, r.id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("duplicate lookup failed, ingesting normally", "error", err)
		}
		return nil, false, nil
	}
	if orig.VectorScope == "" {
		return nil, false, nil
	}

	if err := r.advance(ctx, progressLoaded, func(d *storage.Document) {
		d.VectorScope = orig.VectorScope
	}); err != nil {
		return nil, false, err
	}
	r.scope = orig.VectorScope

	var rows []*storage.Chunk
	if _, err = c.store.GetDocument(ctx, orig.ID); err == nil {
		rows, err = c.store.ListChunks(ctx, orig.ID)
	}
	if err != nil || len(rows) == 0 {
		r.logger.Info("duplicate vanished, ingesting normally", "dedup_of", orig.ID)
		if err := r.advance(ctx, progressLoaded, func(d *storage.Document) {
			d.VectorScope = r.fresh
		}); err != nil {
			return nil, false, err
		}
		r.scope = r.fresh
		c.cleanupScope(ctx, orig.VectorScope)
		return nil, false, nil
	}

	for _, row := range rows {
		row.DocumentID = r.id
	}
	final, err := c.store.Complete(ctx, r.id, rows, func(d *storage.Document) {
		for k, v := range orig.Metadata {
			if k == storage.MetaDedupOf {
				continue
			}
			d.SetMeta(k, v)
		}
		d.SetMeta(storage.MetaDedupOf, orig.ID)
	})
	if err != nil {
		return nil, false, r.classify(fmt.Errorf("complete duplicate: %w", err))
	}
	return final, true, nil
}

type chunkOutcome struct {
	chunk chunker.Chunk
	err   error
}

// indexResult holds the rows of indexed chunks by ordinal and the first
// chunk error.
type indexResult struct {
	rows     []*storage.Chunk
	firstErr error
}

// index embeds and upserts every chunk on the embed pool. The embed fan-out
// is drained before returning even when the run aborts.
func (r *run) index(ctx context.Context, chunks []chunker.Chunk) (*indexResult, error) {
	c := r.c
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan chunkOutcome, len(chunks))
	var wg sync.WaitGroup
	for _, ch := range chunks {
		wg.Add(1)
		err := c.embedPool.Submit(func() {
			defer wg.Done()
			out <- chunkOutcome{chunk: ch, err: r.indexChunk(ctx, ch)}
		})
		if err != nil {
			wg.Done()
			out <- chunkOutcome{chunk: ch, err: fmt.Errorf("submit chunk %d: %w", ch.Ordinal, err)}
		}
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var (
		rows     []*storage.Chunk
		firstErr error
		aborted  error
		done     int
		last     = progressChunked
	)
	total := len(chunks)
	for o := range out {
		done++
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			r.logger.Debug("chunk not indexed", "ordinal", o.chunk.Ordinal, "error", o.err)
		} else {
			rows = append(rows, &storage.Chunk{
				DocumentID:  r.id,
				Ordinal:     o.chunk.Ordinal,
				Text:        o.chunk.Text,
				StartOffset: o.chunk.Start,
				EndOffset:   o.chunk.End,
				VectorID:    vectorstore.PointID(r.scope, o.chunk.Ordinal),
			})
		}

		if aborted != nil {
			continue
		}
		if p := progressChunked + progressIndexSpan*done/total; p > last {
			last = p
			if err := r.advance(ctx, p, nil); err != nil {
				aborted = err
				cancel()
			}
		}
	}
	if aborted != nil {
		return nil, aborted
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Ordinal < rows[j].Ordinal })
	return &indexResult{rows: rows, firstErr: firstErr}, nil
}

func (r *run) indexChunk(ctx context.Context, ch chunker.Chunk) error {
	vec, err := r.c.embedder.Embed(ctx, ch.Text)
	if err != nil {
		return fmt.Errorf("embed chunk %d: %w", ch.Ordinal, err)
	}
	err = r.c.vectors.Upsert(ctx, vectorstore.Point{
		ID:         vectorstore.PointID(r.scope, ch.Ordinal),
		Scope:      r.scope,
		DocumentID: r.id,
		Ordinal:    ch.Ordinal,
		Text:       ch.Text,
		Vector:     vec,
		Meta:       map[string]string{storage.MetaLanguage: r.lang},
	})
	if err != nil {
		return fmt.Errorf("index chunk %d: %w", ch.Ordinal, err)
	}
	return nil
}

// fail moves the document to failed with cause as its message and removes
// the vectors of the run's scope.
func (r *run) fail(ctx context.Context, cause error) (*storage.Document, error) {
	ctx = context.WithoutCancel(ctx)
	final, err := r.c.store.Transition(ctx, r.id, storage.StatusProcessing, storage.StatusFailed, func(d *storage.Document) {
		d.ErrorMessage = cause.Error()
		d.VectorScope = ""
	})
	if err != nil {
		return nil, r.classify(fmt.Errorf("mark failed: %w", err))
	}
	r.c.cleanupScope(ctx, r.scope)
	return final, nil
}
