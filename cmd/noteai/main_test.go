package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/noteai-server/internal/storage"
)

func TestSourceFor(t *testing.T) {
	req, err := sourceFor("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceVideo, req.SourceType)

	req, err = sourceFor("https://vi.wikipedia.org/wiki/Quang_h%E1%BB%A3p")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceWeb, req.SourceType)
	assert.Equal(t, "https://vi.wikipedia.org/wiki/Quang_h%E1%BB%A3p", req.SourceRef)

	path := filepath.Join(t.TempDir(), "bai-giang.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	req, err = sourceFor(path)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceUpload, req.SourceType)
	assert.Equal(t, "bai-giang.pdf", req.FileName)
	assert.Equal(t, []byte("%PDF-1.4"), req.Content)

	_, err = sourceFor(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	doc := &storage.Document{OriginRef: "https://example.com/a"}
	assert.Equal(t, "https://example.com/a", displayName(doc))
	doc.FileName = "a.pdf"
	assert.Equal(t, "a.pdf", displayName(doc))
	doc.SetMeta(storage.MetaTitle, "Bài 1")
	assert.Equal(t, "Bài 1", displayName(doc))
}
