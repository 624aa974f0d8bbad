package extract

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/storage"
)

// OCR transcribes the text in an image. generation.OpenAIGenerator
// implements it with a vision model.
type OCR interface {
	OCR(ctx context.Context, image []byte, mimeType string) (string, error)
}

// ImageExtractor transcribes uploaded images.
type ImageExtractor struct {
	blobLoader
	ocr OCR
}

var _ Extractor = (*ImageExtractor)(nil)

func NewImageExtractor(blobs blob.Store, ocr OCR) *ImageExtractor {
	return &ImageExtractor{blobLoader: blobLoader{blobs: blobs}, ocr: ocr}
}

func (e *ImageExtractor) Kind() Kind { return KindImage }

func (e *ImageExtractor) Extract(ctx context.Context, raw *Raw) (*Result, error) {
	mimeType := raw.MIMEType
	if mimeType == "" {
		name := raw.Source.FileName
		if name == "" {
			name = raw.Source.Ref
		}
		mimeType = imageExtensions[strings.ToLower(path.Ext(name))]
	}

	text, err := e.ocr.OCR(ctx, raw.Data, mimeType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: ocr: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: ocr: %v", ErrFetchFailed, err)
	}
	return result(raw, text, map[string]string{storage.MetaByteSize: strconv.Itoa(len(raw.Data))})
}
