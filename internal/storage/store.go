// Package storage persists documents, chunks, chat sessions and notes.
package storage

import "context"

// DocumentStore owns document status. Every status change is a
// compare-and-set inside a single transaction.
type DocumentStore interface {
	// CreateDocument inserts doc as pending. ID and timestamps are assigned
	// when empty.
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	// ListDocuments returns documents with the given status, or all of them
	// when status is empty.
	ListDocuments(ctx context.Context, status Status) ([]*Document, error)
	// FindCompletedByHash returns a completed document of userID with the
	// given content hash, other than excludeID.
	FindCompletedByHash(ctx context.Context, userID, hash, excludeID string) (*Document, error)

	// Transition moves a document from one status to another. It fails with
	// ErrStatusConflict if the stored status is not from. Completion goes
	// through Complete instead.
	Transition(ctx context.Context, id string, from, to Status, mutate func(*Document)) (*Document, error)
	// UpdateProcessing applies mutate to a processing document. Progress
	// never decreases.
	UpdateProcessing(ctx context.Context, id string, mutate func(*Document)) (*Document, error)
	// Complete persists chunks and then marks the document completed. The
	// status, progress and chunk count change together; chunk rows of a
	// document that is still processing are never read.
	Complete(ctx context.Context, id string, chunks []*Chunk, mutate func(*Document)) (*Document, error)
	// Reset moves a terminal document back to pending and drops its chunks.
	// It returns the document as it was before the reset.
	Reset(ctx context.Context, id string) (*Document, error)
	// DeleteDocument removes a document with its chunks, sessions and
	// messages, and unlinks its notes. It returns the deleted document.
	DeleteDocument(ctx context.Context, id string) (*Document, error)

	// CountScopeRefs counts documents that reference a vector scope.
	CountScopeRefs(ctx context.Context, scope string) (int, error)
	ListChunks(ctx context.Context, documentID string) ([]*Chunk, error)

	AddOrphanScope(ctx context.Context, scope string) error
	ListOrphanScopes(ctx context.Context) ([]string, error)
	RemoveOrphanScope(ctx context.Context, scope string) error
}

// ChatStore persists sessions and their append-only message log.
type ChatStore interface {
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	ListSessions(ctx context.Context, documentID string) ([]*ChatSession, error)
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage assigns ID, Seq and CreatedAt and stores msg.
	AppendMessage(ctx context.Context, msg *ChatMessage) error
	// ListMessages returns a session's messages ordered by Seq. A limit of
	// zero or less returns everything after offset.
	ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]*ChatMessage, error)
}

// NoteStore persists user notes.
type NoteStore interface {
	SaveNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, id string) (*Note, error)
	ListNotesByDocument(ctx context.Context, documentID string) ([]*Note, error)
	DeleteNote(ctx context.Context, id string) error
}

// Store is the full persistence surface.
type Store interface {
	DocumentStore
	ChatStore
	NoteStore
	Ping(ctx context.Context) error
	Close() error
}
