package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// SaveNote inserts or updates a note. A linked document must exist.
func (s *BadgerStore) SaveNote(ctx context.Context, note *Note) error {
	if note.UserID == "" {
		return fmt.Errorf("%w: note needs a user", ErrInvalid)
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	note.UpdatedAt = now

	return s.withTx(func(tx *badger.Txn) error {
		var prev Note
		err := getJSON(tx, makeNoteKey(note.ID), &prev)
		switch {
		case err == nil:
			note.CreatedAt = prev.CreatedAt
			if prev.DocumentID != "" {
				if err := tx.Delete(makeNoteDocKey(prev.DocumentID, note.ID)); err != nil {
					return err
				}
			}
		case errors.Is(err, ErrNotFound):
			note.CreatedAt = now
		default:
			return err
		}

		if note.DocumentID != "" {
			if _, err := readDocument(tx, note.DocumentID); err != nil {
				return fmt.Errorf("document %s: %w", note.DocumentID, err)
			}
			if err := tx.Set(makeNoteDocKey(note.DocumentID, note.ID), nil); err != nil {
				return err
			}
		}
		return setJSON(tx, makeNoteKey(note.ID), note)
	}, true)
}

func (s *BadgerStore) GetNote(ctx context.Context, id string) (*Note, error) {
	var note Note
	err := s.withTx(func(tx *badger.Txn) error {
		return getJSON(tx, makeNoteKey(id), &note)
	}, false)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotesByDocument returns the notes linked to a document.
func (s *BadgerStore) ListNotesByDocument(ctx context.Context, documentID string) ([]*Note, error) {
	var notes []*Note
	err := s.withTx(func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, makeNoteDocPrefix(documentID)) {
			var note Note
			if err := getJSON(tx, makeNoteKey(lastSegment(key)), &note); err != nil {
				return err
			}
			notes = append(notes, &note)
		}
		return nil
	}, false)
	return notes, err
}

func (s *BadgerStore) DeleteNote(ctx context.Context, id string) error {
	return s.withTx(func(tx *badger.Txn) error {
		var note Note
		if err := getJSON(tx, makeNoteKey(id), &note); err != nil {
			return err
		}
		if note.DocumentID != "" {
			if err := tx.Delete(makeNoteDocKey(note.DocumentID, id)); err != nil {
				return err
			}
		}
		return tx.Delete(makeNoteKey(id))
	}, true)
}
