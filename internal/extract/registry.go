package extract

import (
	"log/slog"

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/github"
)

// Deps are the collaborators of the built-in extractors.
type Deps struct {
	Blobs  blob.Store
	OCR    OCR // nil disables image uploads
	GitHub *github.Fetcher
	Fetch  FetchConfig
	// TimedTextURL overrides the YouTube caption endpoint.
	TimedTextURL string
	Logger       *slog.Logger
}

// DefaultRegistry registers every built-in extractor that deps can serve.
func DefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.GitHub == nil {
		client, err := github.NewClient("")
		if err != nil {
			return nil, err
		}
		deps.GitHub = github.NewFetcher(client)
	}

	r := NewRegistry(
		NewPDFExtractor(deps.Blobs, deps.Logger),
		NewDOCXExtractor(deps.Blobs),
		NewWebExtractor(deps.Fetch),
		NewGitHubExtractor(deps.GitHub, deps.Fetch),
		NewVideoExtractor(VideoConfig{Fetch: deps.Fetch, TimedTextURL: deps.TimedTextURL}, deps.Logger),
	)
	if deps.OCR != nil {
		r.Register(NewImageExtractor(deps.Blobs, deps.OCR))
	}
	return r, nil
}
