package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the text layer of uploaded PDF files.
type PDFExtractor struct {
	blobLoader
	logger *slog.Logger
}

var _ Extractor = (*PDFExtractor)(nil)

func NewPDFExtractor(blobs blob.Store, logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{blobLoader: blobLoader{blobs: blobs}, logger: logger.With("component", "pdf-extractor")}
}

func (e *PDFExtractor) Kind() Kind { return KindPDF }

// Extract returns the concatenated page text. The parser panics on some
// malformed files; those panics become ErrCorruptSource.
func (e *PDFExtractor) Extract(ctx context.Context, raw *Raw) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: pdf parser: %v", ErrCorruptSource, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw.Data), int64(len(raw.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrCorruptSource, err)
	}

	var sb strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return result(raw, sb.String(), map[string]string{
		storage.MetaPageCount: strconv.Itoa(pageCount),
		storage.MetaByteSize:  strconv.Itoa(len(raw.Data)),
	})
}
