package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bull/noteai-server/internal/storage"
)

// DefaultTimedTextURL serves YouTube caption tracks as XML.
const DefaultTimedTextURL = "https://www.youtube.com/api/timedtext"

// DefaultTranscriptLanguages is the caption preference order.
var DefaultTranscriptLanguages = []string{"vi", "en", "ko"}

// VideoConfig configures VideoExtractor.
type VideoConfig struct {
	Fetch        FetchConfig
	TimedTextURL string
	Languages    []string
}

// VideoExtractor ingests the caption transcript of a YouTube video.
type VideoExtractor struct {
	fetch     *fetcher
	baseURL   string
	languages []string
	logger    *slog.Logger
}

var _ Extractor = (*VideoExtractor)(nil)

func NewVideoExtractor(cfg VideoConfig, logger *slog.Logger) *VideoExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TimedTextURL == "" {
		cfg.TimedTextURL = DefaultTimedTextURL
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultTranscriptLanguages
	}
	return &VideoExtractor{
		fetch:     newFetcher(cfg.Fetch),
		baseURL:   cfg.TimedTextURL,
		languages: cfg.Languages,
		logger:    logger.With("component", "video-extractor"),
	}
}

func (e *VideoExtractor) Kind() Kind { return KindVideo }

// Load returns the first caption track found in preference order.
func (e *VideoExtractor) Load(ctx context.Context, src Source) (*Raw, error) {
	id, err := YouTubeID(src.Ref)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, lang := range e.languages {
		q := url.Values{"v": {id}, "lang": {lang}}
		body, _, err := e.fetch.get(ctx, e.baseURL+"?"+q.Encode())
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, err
			}
			lastErr = err
			continue
		}
		segments, err := parseTranscript(body)
		if err != nil || len(segments) == 0 {
			e.logger.Debug("no transcript", "video", id, "lang", lang)
			continue
		}
		e.logger.Info("transcript found", "video", id, "lang", lang, "segments", len(segments))
		return &Raw{
			Source:   src,
			Data:     body,
			MIMEType: "text/xml",
			Meta:     map[string]string{storage.MetaTranscriptLanguage: lang},
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: no transcript for video %s: %v", ErrFetchFailed, id, lastErr)
	}
	return nil, fmt.Errorf("%w: no transcript for video %s", ErrFetchFailed, id)
}

func (e *VideoExtractor) Extract(_ context.Context, raw *Raw) (*Result, error) {
	segments, err := parseTranscript(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse transcript: %v", ErrCorruptSource, err)
	}
	return result(raw, strings.Join(segments, " "), nil)
}

type transcriptXML struct {
	Texts []struct {
		Start   string `xml:"start,attr"`
		Content string `xml:",chardata"`
	} `xml:"text"`
}

// parseTranscript returns the non-empty caption segments. Caption text is
// HTML-escaped inside the XML.
func parseTranscript(data []byte) ([]string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var doc transcriptXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	segments := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		s := strings.Join(strings.Fields(html.UnescapeString(t.Content)), " ")
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments, nil
}
