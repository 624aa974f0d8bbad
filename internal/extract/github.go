package extract

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/bull/noteai-server/internal/github"
	"github.com/bull/noteai-server/internal/markdown"
	"github.com/bull/noteai-server/internal/storage"
)

// GitHubExtractor loads repository files through the contents API. Markdown
// files are rendered to plain text, other files are taken as text.
type GitHubExtractor struct {
	fetcher *github.Fetcher
	parser  *markdown.Parser
	fetch   FetchConfig
}

var _ Extractor = (*GitHubExtractor)(nil)

func NewGitHubExtractor(fetcher *github.Fetcher, cfg FetchConfig) *GitHubExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	return &GitHubExtractor{fetcher: fetcher, parser: markdown.NewParser(), fetch: cfg}
}

func (e *GitHubExtractor) Kind() Kind { return KindGitHub }

func (e *GitHubExtractor) Load(ctx context.Context, src Source) (*Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetch.Timeout)
	defer cancel()

	doc, err := e.fetcher.FetchURL(ctx, src.Ref)
	if err != nil {
		return nil, classifyFetch(ctx, err)
	}
	if e.fetch.MaxBytes > 0 && int64(len(doc.Content)) > e.fetch.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrFetchFailed, e.fetch.MaxBytes)
	}

	mimeType := "text/plain"
	switch strings.ToLower(path.Ext(doc.Ref.Path)) {
	case ".md", ".markdown", ".mdx":
		mimeType = "text/markdown"
	}
	return &Raw{
		Source:   src,
		Data:     doc.Content,
		MIMEType: mimeType,
		Meta:     map[string]string{storage.MetaTitle: path.Base(doc.Ref.Path)},
	}, nil
}

func (e *GitHubExtractor) Extract(_ context.Context, raw *Raw) (*Result, error) {
	meta := map[string]string{storage.MetaByteSize: strconv.Itoa(len(raw.Data))}
	if raw.MIMEType != "text/markdown" {
		return result(raw, string(raw.Data), meta)
	}

	if titles, err := e.parser.Titles(raw.Data); err == nil && len(titles) > 0 {
		meta[storage.MetaTitle] = titles[0]
	}
	return result(raw, e.parser.PlainText(raw.Data), meta)
}
