package mcp

import (
	"errors"
	"fmt"

	"github.com/bull/noteai-server/internal/analysis"
	"github.com/bull/noteai-server/internal/chat"
	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/storage"
)

var (
	// ErrMissingDependency is returned by NewServer when an engine is nil.
	ErrMissingDependency = errors.New("mcp: ingest, chat and analysis engines are required")
	// ErrLocalFilesDisabled is returned for file_path uploads when the server
	// does not read its own filesystem.
	ErrLocalFilesDisabled = errors.New("file_path uploads are disabled on this server")
)

// toolError prefixes err with the category a client can act on. The wrapped
// error stays reachable through errors.Is.
func toolError(err error) error {
	if err == nil {
		return nil
	}
	var kind string
	switch {
	case errors.Is(err, storage.ErrNotFound):
		kind = "not found"
	case errors.Is(err, ingest.ErrDocumentNotReady):
		kind = "not ready"
	case errors.Is(err, chat.ErrGeneration), errors.Is(err, analysis.ErrGeneration):
		kind = "generation failed"
	case errors.Is(err, analysis.ErrMalformedResponse):
		kind = "malformed response"
	case errors.Is(err, chat.ErrRetrieval), errors.Is(err, analysis.ErrRetrieval):
		kind = "retrieval failed"
	case errors.Is(err, ingest.ErrBusy), errors.Is(err, storage.ErrStatusConflict):
		kind = "busy"
	case errors.Is(err, storage.ErrInvalid), errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, analysis.ErrNoLinkedDocument), errors.Is(err, ErrLocalFilesDisabled):
		kind = "invalid request"
	default:
		kind = "internal error"
	}
	return fmt.Errorf("%s: %w", kind, err)
}
