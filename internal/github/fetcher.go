package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v81/github"
)

// ErrNotGitHub is returned for URLs that do not name a file in a repository.
var ErrNotGitHub = errors.New("not a github file url")

// FileRef identifies one file at one ref of a repository.
type FileRef struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// FetchedDoc represents a document fetched from GitHub
type FetchedDoc struct {
	Ref     FileRef
	Name    string
	Content []byte
	SHA     string // File's Git blob SHA
	URL     string // GitHub raw URL
}

// ParseURL accepts github.com blob URLs and raw.githubusercontent.com URLs:
//
//	https://github.com/{owner}/{repo}/blob/{ref}/{path}
//	https://raw.githubusercontent.com/{owner}/{repo}/{ref}/{path}
func ParseURL(rawURL string) (FileRef, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FileRef{}, fmt.Errorf("%w: %v", ErrNotGitHub, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch strings.ToLower(u.Host) {
	case "github.com", "www.github.com":
		if len(parts) < 5 || parts[2] != "blob" {
			return FileRef{}, fmt.Errorf("%w: %s", ErrNotGitHub, rawURL)
		}
		return FileRef{Owner: parts[0], Repo: parts[1], Ref: parts[3], Path: strings.Join(parts[4:], "/")}, nil
	case "raw.githubusercontent.com":
		if len(parts) < 4 {
			return FileRef{}, fmt.Errorf("%w: %s", ErrNotGitHub, rawURL)
		}
		return FileRef{Owner: parts[0], Repo: parts[1], Ref: parts[2], Path: strings.Join(parts[3:], "/")}, nil
	}
	return FileRef{}, fmt.Errorf("%w: %s", ErrNotGitHub, rawURL)
}

// IsGitHubURL reports whether rawURL names a repository file.
func IsGitHubURL(rawURL string) bool {
	_, err := ParseURL(rawURL)
	return err == nil
}

// Fetcher handles fetching documents from GitHub repositories
type Fetcher struct {
	client *Client
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// FetchURL fetches the file named by a github.com or raw.githubusercontent.com URL.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (*FetchedDoc, error) {
	ref, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return f.FetchDoc(ctx, ref)
}

// FetchDoc fetches the content of a single file
func (f *Fetcher) FetchDoc(ctx context.Context, ref FileRef) (*FetchedDoc, error) {
	var opts *github.RepositoryContentGetOptions
	if ref.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref.Ref}
	}

	fileContent, dirContents, _, err := f.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, ref.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", ref.Path, err)
	}
	if fileContent == nil {
		if dirContents != nil {
			return nil, fmt.Errorf("%s is a directory", ref.Path)
		}
		return nil, fmt.Errorf("no file content returned for %s", ref.Path)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", ref.Path, err)
	}

	gitRef := ref.Ref
	if gitRef == "" {
		gitRef = "HEAD"
	}
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", ref.Owner, ref.Repo, gitRef, ref.Path)

	return &FetchedDoc{
		Ref:     ref,
		Name:    fileContent.GetName(),
		Content: []byte(content),
		SHA:     fileContent.GetSHA(),
		URL:     rawURL,
	}, nil
}
