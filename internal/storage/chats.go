package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// CreateSession stores a session for an existing document.
func (s *BadgerStore) CreateSession(ctx context.Context, session *ChatSession) error {
	if session.DocumentID == "" {
		return fmt.Errorf("%w: session needs a document", ErrInvalid)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = time.Now().UTC()

	return s.withTx(func(tx *badger.Txn) error {
		if _, err := readDocument(tx, session.DocumentID); err != nil {
			return fmt.Errorf("document %s: %w", session.DocumentID, err)
		}
		if err := setJSON(tx, makeSessionKey(session.ID), session); err != nil {
			return err
		}
		return tx.Set(makeSessionDocKey(session.DocumentID, session.ID), nil)
	}, true)
}

func (s *BadgerStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	var session ChatSession
	err := s.withTx(func(tx *badger.Txn) error {
		return getJSON(tx, makeSessionKey(id), &session)
	}, false)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns a document's sessions.
func (s *BadgerStore) ListSessions(ctx context.Context, documentID string) ([]*ChatSession, error) {
	var sessions []*ChatSession
	err := s.withTx(func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, makeSessionDocPrefix(documentID)) {
			var session ChatSession
			if err := getJSON(tx, makeSessionKey(lastSegment(key)), &session); err != nil {
				return err
			}
			sessions = append(sessions, &session)
		}
		return nil
	}, false)
	return sessions, err
}

// DeleteSession removes a session and all of its messages.
func (s *BadgerStore) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(func(tx *badger.Txn) error {
		return deleteSession(tx, id)
	}, true)
}

// AppendMessage appends msg to its session's log.
func (s *BadgerStore) AppendMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, msg.Role)
	}

	seq, err := s.msgSeq.Next()
	if err != nil {
		return err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if seq == 0 {
		if seq, err = s.msgSeq.Next(); err != nil {
			return err
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Seq = seq
	msg.CreatedAt = time.Now().UTC()

	return s.withTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(makeSessionKey(msg.SessionID)); err != nil {
			return fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
		}
		return setJSON(tx, makeMessageKey(msg.SessionID, msg.Seq), msg)
	}, true)
}

// ListMessages pages through a session's messages in sequence order.
func (s *BadgerStore) ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]*ChatMessage, error) {
	if offset < 0 {
		offset = 0
	}
	var msgs []*ChatMessage
	err := s.withTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(makeSessionKey(sessionID)); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		var err error
		msgs, err = scanJSON[ChatMessage](tx, makeMessagePrefix(sessionID), offset, limit)
		return err
	}, false)
	return msgs, err
}

func deleteSession(tx *badger.Txn, id string) error {
	var session ChatSession
	if err := getJSON(tx, makeSessionKey(id), &session); err != nil {
		return err
	}
	if err := deletePrefix(tx, makeMessagePrefix(id)); err != nil {
		return err
	}
	if err := tx.Delete(makeSessionDocKey(session.DocumentID, id)); err != nil {
		return err
	}
	return tx.Delete(makeSessionKey(id))
}
