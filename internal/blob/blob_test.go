package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for name, s := range map[string]Store{"fs": fs, "memory": NewMemoryStore()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, "uploads/u1/doc.pdf", []byte("%PDF-1.4")))
			got, err := s.Get(ctx, "uploads/u1/doc.pdf")
			require.NoError(t, err)
			assert.Equal(t, []byte("%PDF-1.4"), got)

			require.NoError(t, s.Delete(ctx, "uploads/u1/doc.pdf"))
			require.NoError(t, s.Delete(ctx, "uploads/u1/doc.pdf"))

			_, err = s.Get(ctx, "uploads/u1/doc.pdf")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, fs.Put(context.Background(), "../escape", []byte("x")))
	assert.Error(t, fs.Put(context.Background(), "", []byte("x")))
}
