package chat

import (
	"errors"

	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/storage"
)

var (
	// ErrNotFound is returned for a missing session or document.
	ErrNotFound = storage.ErrNotFound
	// ErrDocumentNotReady is returned when the session's document has not
	// completed ingestion.
	ErrDocumentNotReady = ingest.ErrDocumentNotReady
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrRetrieval is returned when the question cannot be embedded or the
	// vector store cannot be queried.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration is returned when no answer could be generated. The user
	// message stays persisted.
	ErrGeneration = errors.New("answer generation failed")
)
