package analysis

import (
	"errors"

	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/storage"
)

var (
	ErrNotFound         = storage.ErrNotFound
	ErrDocumentNotReady = ingest.ErrDocumentNotReady

	// ErrNoLinkedDocument is returned when reviewing a note that is not
	// attached to a document.
	ErrNoLinkedDocument = errors.New("note is not linked to a document")
	// ErrMalformedResponse is returned when no generation attempt produced
	// parseable JSON.
	ErrMalformedResponse = errors.New("malformed analysis response")
	ErrRetrieval         = errors.New("retrieval failed")
	ErrGeneration        = errors.New("analysis generation failed")
)
