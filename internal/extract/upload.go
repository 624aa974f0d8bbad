package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/bull/noteai-server/internal/blob"
)

// blobLoader loads upload bytes from the object store.
type blobLoader struct {
	blobs blob.Store
}

func (l blobLoader) Load(ctx context.Context, src Source) (*Raw, error) {
	data, err := l.blobs.Get(ctx, src.Ref)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: upload %s missing: %v", ErrFetchFailed, src.Ref, err)
		}
		return nil, fmt.Errorf("%w: read upload %s: %v", ErrFetchFailed, src.Ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrCorruptSource)
	}
	return &Raw{Source: src, Data: data}, nil
}
