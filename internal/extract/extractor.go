// Package extract turns raw sources into normalized plain text. Each source
// kind has one Extractor, selected through a Registry by its Kind tag.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bull/noteai-server/internal/github"
	"github.com/bull/noteai-server/internal/storage"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptSource     = errors.New("corrupt source")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrTimeout           = errors.New("extraction timeout")
)

// Kind is the stable tag of an extractor.
type Kind string

const (
	KindPDF    Kind = "upload-pdf"
	KindDOCX   Kind = "upload-docx"
	KindImage  Kind = "upload-image"
	KindWeb    Kind = "url-web"
	KindGitHub Kind = "url-github"
	KindVideo  Kind = "url-video"
)

// Source names what to load: a blob key for uploads or a URL.
type Source struct {
	Kind     Kind
	Ref      string
	FileName string
}

// Raw is a loaded source before extraction.
type Raw struct {
	Source   Source
	Data     []byte
	MIMEType string
	// Meta carries loader facts (such as the transcript language) through to
	// the Result.
	Meta map[string]string
}

// Result is normalized UTF-8 text plus document metadata.
type Result struct {
	Text     string
	Metadata map[string]string
}

// Extractor loads and extracts one kind of source. Load is the only step
// that touches the network or the blob store.
type Extractor interface {
	Kind() Kind
	Load(ctx context.Context, src Source) (*Raw, error)
	Extract(ctx context.Context, raw *Raw) (*Result, error)
}

// Registry maps kinds to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[Kind]Extractor
}

// NewRegistry creates a registry holding extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{extractors: make(map[Kind]Extractor)}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the extractor for e.Kind().
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Kind()] = e
}

// Get returns the extractor for kind.
func (r *Registry) Get(kind Kind) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %q", ErrUnsupportedFormat, kind)
	}
	return e, nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.extractors))
	for k := range r.extractors {
		kinds = append(kinds, k)
	}
	return kinds
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Resolve picks the extractor kind for a document source.
func Resolve(sourceType storage.SourceType, ref, fileName string) (Kind, error) {
	switch sourceType {
	case storage.SourceUpload:
		name := fileName
		if name == "" {
			name = ref
		}
		ext := strings.ToLower(path.Ext(name))
		switch {
		case ext == ".pdf":
			return KindPDF, nil
		case ext == ".docx":
			return KindDOCX, nil
		case imageExtensions[ext] != "":
			return KindImage, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)

	case storage.SourceWeb:
		u, err := url.Parse(ref)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("%w: invalid url %q", ErrUnsupportedFormat, ref)
		}
		if github.IsGitHubURL(ref) {
			return KindGitHub, nil
		}
		return KindWeb, nil

	case storage.SourceVideo:
		if _, err := YouTubeID(ref); err != nil {
			return "", err
		}
		return KindVideo, nil
	}
	return "", fmt.Errorf("%w: source type %q", ErrUnsupportedFormat, sourceType)
}

// YouTubeID extracts the video id from the youtu.be, watch, embed and /v/
// URL forms.
func YouTubeID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid video url %q", ErrUnsupportedFormat, rawURL)
	}

	var id string
	switch strings.ToLower(u.Hostname()) {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "www.youtube.com", "youtube.com", "m.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		case strings.HasPrefix(u.Path, "/v/"):
			id = strings.TrimPrefix(u.Path, "/v/")
		}
	}
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", fmt.Errorf("%w: not a youtube video url %q", ErrUnsupportedFormat, rawURL)
	}
	return id, nil
}

// normalize converts line endings, drops control characters and collapses
// runs of blank lines. Invalid UTF-8 is replaced.
func normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRightFunc(strings.Map(dropControl, line), isSpace)
		if strings.TrimSpace(line) == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return b.String()
}

func dropControl(r rune) rune {
	if r == '\t' {
		return ' '
	}
	if r < 0x20 || r == 0x7f {
		return -1
	}
	return r
}

func isSpace(r rune) bool { return r == ' ' || r == '\u00a0' }

// result builds a Result from text, failing with ErrCorruptSource when
// nothing readable is left.
func result(raw *Raw, text string, meta map[string]string) (*Result, error) {
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text extracted", ErrCorruptSource)
	}
	out := make(map[string]string, len(raw.Meta)+len(meta))
	for k, v := range raw.Meta {
		out[k] = v
	}
	for k, v := range meta {
		if v != "" {
			out[k] = v
		}
	}
	return &Result{Text: text, Metadata: out}, nil
}
