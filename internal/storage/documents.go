package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// CreateDocument inserts doc in pending state.
func (s *BadgerStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.UserID == "" || doc.OriginRef == "" {
		return fmt.Errorf("%w: document needs user and origin", ErrInvalid)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.Status = StatusPending
	doc.Progress = 0
	doc.CreatedAt = now
	doc.UpdatedAt = now

	return s.withTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(makeDocumentKey(doc.ID)); err == nil {
			return fmt.Errorf("%w: document %s already exists", ErrInvalid, doc.ID)
		}
		return putDocument(tx, nil, doc)
	}, true)
}

// GetDocument reads a committed snapshot of a document.
func (s *BadgerStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.withTx(func(tx *badger.Txn) error {
		return getJSON(tx, makeDocumentKey(id), &doc)
	}, false)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns documents in key order.
func (s *BadgerStore) ListDocuments(ctx context.Context, status Status) ([]*Document, error) {
	var docs []*Document
	err := s.withTx(func(tx *badger.Txn) error {
		if status == "" {
			var err error
			docs, err = scanJSON[Document](tx, []byte(documentPrefix), 0, 0)
			return err
		}
		for _, key := range scanKeys(tx, makeDocumentStatusPrefix(status)) {
			var doc Document
			if err := getJSON(tx, makeDocumentKey(lastSegment(key)), &doc); err != nil {
				return err
			}
			docs = append(docs, &doc)
		}
		return nil
	}, false)
	return docs, err
}

// FindCompletedByHash looks up the hash index for a completed duplicate.
func (s *BadgerStore) FindCompletedByHash(ctx context.Context, userID, hash, excludeID string) (*Document, error) {
	var found *Document
	err := s.withTx(func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, makeDocumentHashPrefix(userID, hash)) {
			id := lastSegment(key)
			if id == excludeID {
				continue
			}
			var doc Document
			if err := getJSON(tx, makeDocumentKey(id), &doc); err != nil {
				return err
			}
			if doc.Status == StatusCompleted {
				found = &doc
				return nil
			}
		}
		return ErrNotFound
	}, false)
	return found, err
}

// Transition performs the compare-and-set status change. Progress is forced
// to 0 when entering pending or failed, and a failed document keeps no chunk
// rows.
func (s *BadgerStore) Transition(ctx context.Context, id string, from, to Status, mutate func(*Document)) (*Document, error) {
	if to == StatusCompleted {
		return nil, fmt.Errorf("%w: use Complete to finish a document", ErrInvalid)
	}

	var result *Document
	err := s.withTx(func(tx *badger.Txn) error {
		prev, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if prev.Status != from {
			return fmt.Errorf("%w: document %s is %s, expected %s", ErrStatusConflict, id, prev.Status, from)
		}

		doc := prev.Clone()
		doc.Status = to
		if mutate != nil {
			mutate(doc)
		}
		doc.Status = to
		if to == StatusPending || to == StatusFailed {
			doc.Progress = 0
		}
		if to == StatusFailed {
			if doc.ErrorMessage == "" {
				doc.ErrorMessage = "ingestion failed"
			}
			if err := deletePrefix(tx, makeChunkPrefix(id)); err != nil {
				return err
			}
		}
		doc.UpdatedAt = time.Now().UTC()
		result = doc
		return putDocument(tx, prev, doc)
	}, true)
	return result, err
}

// UpdateProcessing mutates a processing document without changing its status.
func (s *BadgerStore) UpdateProcessing(ctx context.Context, id string, mutate func(*Document)) (*Document, error) {
	var result *Document
	err := s.withTx(func(tx *badger.Txn) error {
		prev, err := readProcessing(tx, id)
		if err != nil {
			return err
		}

		doc := prev.Clone()
		mutate(doc)
		doc.Status = StatusProcessing
		if doc.Progress < prev.Progress {
			doc.Progress = prev.Progress
		}
		if doc.Progress > 99 {
			doc.Progress = 99
		}
		doc.UpdatedAt = time.Now().UTC()
		result = doc
		return putDocument(tx, prev, doc)
	}, true)
	return result, err
}

// chunkBatchSize bounds the chunk rows written per transaction, keeping
// large documents under badger's transaction size limit.
const chunkBatchSize = 500

// Complete replaces the document's chunks and marks it completed. Chunk rows
// are written in batches while the document stays processing; the status
// flip happens last, in its own transaction.
func (s *BadgerStore) Complete(ctx context.Context, id string, chunks []*Chunk, mutate func(*Document)) (*Document, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	for start := 0; start < len(chunks); start += chunkBatchSize {
		batch := chunks[start:min(start+chunkBatchSize, len(chunks))]
		first := start == 0
		err := s.withTx(func(tx *badger.Txn) error {
			if _, err := readProcessing(tx, id); err != nil {
				return err
			}
			if first {
				if err := deletePrefix(tx, makeChunkPrefix(id)); err != nil {
					return err
				}
			}
			for _, c := range batch {
				c.DocumentID = id
				if err := setJSON(tx, makeChunkKey(id, c.Ordinal), c); err != nil {
					return err
				}
			}
			return nil
		}, true)
		if err != nil {
			return nil, fmt.Errorf("write chunks %d-%d: %w", start, start+len(batch)-1, err)
		}
	}

	var result *Document
	err := s.withTx(func(tx *badger.Txn) error {
		prev, err := readProcessing(tx, id)
		if err != nil {
			return err
		}
		doc := prev.Clone()
		if mutate != nil {
			mutate(doc)
		}
		doc.Status = StatusCompleted
		doc.Progress = 100
		doc.TotalChunks = len(chunks)
		doc.ErrorMessage = ""
		doc.UpdatedAt = time.Now().UTC()
		result = doc
		return putDocument(tx, prev, doc)
	}, true)
	return result, err
}

func readProcessing(tx *badger.Txn, id string) (*Document, error) {
	doc, err := readDocument(tx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: document %s is %s, expected %s", ErrStatusConflict, id, doc.Status, StatusProcessing)
	}
	return doc, nil
}

// Reset clears a terminal document's run state so it can be ingested again.
func (s *BadgerStore) Reset(ctx context.Context, id string) (*Document, error) {
	var before *Document
	err := s.withTx(func(tx *badger.Txn) error {
		prev, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if !prev.Status.Terminal() {
			return fmt.Errorf("%w: document %s is %s", ErrStatusConflict, id, prev.Status)
		}
		if err := deletePrefix(tx, makeChunkPrefix(id)); err != nil {
			return err
		}

		doc := prev.Clone()
		doc.Status = StatusPending
		doc.Progress = 0
		doc.TotalChunks = 0
		doc.ErrorMessage = ""
		doc.ContentHash = ""
		doc.VectorScope = ""
		doc.Metadata = nil
		doc.UpdatedAt = time.Now().UTC()
		before = prev
		return putDocument(tx, prev, doc)
	}, true)
	return before, err
}

// DeleteDocument cascades to chunks, sessions and messages. Linked notes
// survive with their document reference cleared.
func (s *BadgerStore) DeleteDocument(ctx context.Context, id string) (*Document, error) {
	var deleted *Document
	err := s.withTx(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if err := deleteDocumentIndexes(tx, doc); err != nil {
			return err
		}
		if err := deletePrefix(tx, makeChunkPrefix(id)); err != nil {
			return err
		}

		for _, key := range scanKeys(tx, makeSessionDocPrefix(id)) {
			if err := deleteSession(tx, lastSegment(key)); err != nil {
				return err
			}
		}

		for _, key := range scanKeys(tx, makeNoteDocPrefix(id)) {
			var note Note
			if err := getJSON(tx, makeNoteKey(lastSegment(key)), &note); err != nil {
				return err
			}
			note.DocumentID = ""
			note.UpdatedAt = time.Now().UTC()
			if err := setJSON(tx, makeNoteKey(note.ID), &note); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}

		deleted = doc
		return tx.Delete(makeDocumentKey(id))
	}, true)
	return deleted, err
}

// CountScopeRefs counts documents whose vector scope is scope.
func (s *BadgerStore) CountScopeRefs(ctx context.Context, scope string) (int, error) {
	var n int
	err := s.withTx(func(tx *badger.Txn) error {
		n = len(scanKeys(tx, makeDocumentScopePrefix(scope)))
		return nil
	}, false)
	return n, err
}

// ListChunks returns a document's chunks ordered by ordinal.
func (s *BadgerStore) ListChunks(ctx context.Context, documentID string) ([]*Chunk, error) {
	var chunks []*Chunk
	err := s.withTx(func(tx *badger.Txn) error {
		var err error
		chunks, err = scanJSON[Chunk](tx, makeChunkPrefix(documentID), 0, 0)
		return err
	}, false)
	return chunks, err
}

// AddOrphanScope records a vector scope whose deletion must be retried.
func (s *BadgerStore) AddOrphanScope(ctx context.Context, scope string) error {
	return s.withTx(func(tx *badger.Txn) error {
		return tx.Set(makeOrphanKey(scope), []byte(time.Now().UTC().Format(time.RFC3339)))
	}, true)
}

func (s *BadgerStore) ListOrphanScopes(ctx context.Context) ([]string, error) {
	var scopes []string
	err := s.withTx(func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, []byte(orphanPrefix)) {
			scopes = append(scopes, string(key[len(orphanPrefix):]))
		}
		return nil
	}, false)
	return scopes, err
}

func (s *BadgerStore) RemoveOrphanScope(ctx context.Context, scope string) error {
	return s.withTx(func(tx *badger.Txn) error {
		return tx.Delete(makeOrphanKey(scope))
	}, true)
}

func readDocument(tx *badger.Txn, id string) (*Document, error) {
	var doc Document
	if err := getJSON(tx, makeDocumentKey(id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// putDocument writes doc and moves its index entries from prev's values.
func putDocument(tx *badger.Txn, prev, doc *Document) error {
	if prev != nil {
		if err := deleteDocumentIndexes(tx, prev); err != nil {
			return err
		}
	}
	if err := setJSON(tx, makeDocumentKey(doc.ID), doc); err != nil {
		return err
	}
	if err := tx.Set(makeDocumentStatusKey(doc.Status, doc.ID), nil); err != nil {
		return err
	}
	if doc.ContentHash != "" {
		if err := tx.Set(makeDocumentHashKey(doc.UserID, doc.ContentHash, doc.ID), nil); err != nil {
			return err
		}
	}
	if doc.VectorScope != "" {
		if err := tx.Set(makeDocumentScopeKey(doc.VectorScope, doc.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteDocumentIndexes(tx *badger.Txn, doc *Document) error {
	if err := tx.Delete(makeDocumentStatusKey(doc.Status, doc.ID)); err != nil {
		return err
	}
	if doc.ContentHash != "" {
		if err := tx.Delete(makeDocumentHashKey(doc.UserID, doc.ContentHash, doc.ID)); err != nil {
			return err
		}
	}
	if doc.VectorScope != "" {
		if err := tx.Delete(makeDocumentScopeKey(doc.VectorScope, doc.ID)); err != nil {
			return err
		}
	}
	return nil
}
