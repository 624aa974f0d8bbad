package ingest

import "errors"

var (
	// ErrAborted ends a run whose document was deleted while processing.
	ErrAborted = errors.New("ingestion aborted")
	// ErrBusy is returned when another worker holds the document.
	ErrBusy = errors.New("document is being processed")
	// ErrDocumentNotReady is returned for operations that need a completed document.
	ErrDocumentNotReady = errors.New("document not ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)
