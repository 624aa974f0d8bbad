// Package analysis reviews study notes against their source document and
// recommends what to study next from note coverage.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/bull/noteai-server/internal/embedding"
	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/markdown"
	"github.com/bull/noteai-server/internal/prompt"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

// Store is the persistence the engine needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]*storage.Chunk, error)
	storage.NoteStore
}

// Config tunes both analyses.
type Config struct {
	// ReviewTopK is how many document chunks a review is grounded on.
	ReviewTopK        int
	ReviewTemperature float64
	ReviewMaxTokens   int
	MaxNoteChars      int
	MaxContextChars   int

	// CoverageThreshold is the minimum score for a note section to cover a
	// chunk.
	CoverageThreshold float64
	// CoverageTopK bounds the chunks one section can cover.
	CoverageTopK         int
	UncoveredChunks      int
	RecommendTemperature float64
	RecommendMaxTokens   int

	// ParseAttempts is how many generations are tried before giving up on
	// malformed JSON.
	ParseAttempts int
}

func DefaultConfig() Config {
	return Config{
		ReviewTopK:           8,
		ReviewTemperature:    0.3,
		ReviewMaxTokens:      2000,
		MaxNoteChars:         4000,
		MaxContextChars:      6000,
		CoverageThreshold:    0.5,
		CoverageTopK:         3,
		UncoveredChunks:      10,
		RecommendTemperature: 0.5,
		RecommendMaxTokens:   1500,
		ParseAttempts:        2,
	}
}

// Engine runs reviews and recommendations.
type Engine struct {
	store     Store
	embedder  embedding.Embedder
	vectors   vectorstore.Store
	generator generation.Generator
	detector  *language.Detector
	parser    *markdown.Parser
	cfg       Config
	logger    *slog.Logger
}

func New(store Store, embedder embedding.Embedder, vectors vectorstore.Store, generator generation.Generator, detector *language.Detector, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = language.New(language.Vietnamese, 0)
	}
	def := DefaultConfig()
	if cfg.ReviewTopK <= 0 {
		cfg.ReviewTopK = def.ReviewTopK
	}
	if cfg.CoverageTopK <= 0 {
		cfg.CoverageTopK = def.CoverageTopK
	}
	if cfg.ParseAttempts <= 0 {
		cfg.ParseAttempts = def.ParseAttempts
	}
	return &Engine{
		store:     store,
		embedder:  embedder,
		vectors:   vectors,
		generator: generator,
		detector:  detector,
		parser:    markdown.NewParser(),
		cfg:       cfg,
		logger:    logger.With("component", "analysis"),
	}
}

// readyDocument loads a document and requires it to be completed.
func (e *Engine) readyDocument(ctx context.Context, id string) (*storage.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if doc.Status != storage.StatusCompleted {
		return nil, fmt.Errorf("%w: document %s is %s", ErrDocumentNotReady, doc.ID, doc.Status)
	}
	return doc, nil
}

// Review judges a note against the document it is linked to. When the
// feedback comes back in a language other than the note's, one stricter
// generation is requested.
func (e *Engine) Review(ctx context.Context, noteID string) (*Review, error) {
	note, err := e.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("note %s: %w", noteID, err)
	}
	if note.DocumentID == "" {
		return nil, ErrNoLinkedDocument
	}
	doc, err := e.readyDocument(ctx, note.DocumentID)
	if err != nil {
		return nil, err
	}

	plain := strings.TrimSpace(e.parser.PlainText([]byte(note.Content)))
	if plain == "" {
		plain = note.Content
	}
	tag := e.detector.Detect(plain)

	matches, err := e.retrieve(ctx, doc.VectorScope, prompt.Truncate(plain, e.cfg.MaxNoteChars), e.cfg.ReviewTopK, 0)
	if err != nil {
		return nil, err
	}

	in := prompt.ReviewInput{
		Title:           note.Title,
		Note:            note.Content,
		Language:        tag,
		Chunks:          toPromptChunks(matches),
		MaxContextChars: e.cfg.MaxContextChars,
		MaxNoteChars:    e.cfg.MaxNoteChars,
	}
	review, err := e.generateReview(ctx, in)
	if err != nil {
		return nil, err
	}

	if got := e.detector.Detect(review.OverallFeedback); got != tag {
		e.logger.Info("review language mismatch, asking again", "note", note.ID, "want", tag, "got", got)
		in.Strict = true
		if strict, err := e.generateReview(ctx, in); err == nil {
			review = strict
		} else {
			e.logger.Warn("strict review failed, keeping first review", "note", note.ID, "error", err)
		}
	}

	review.NoteID = note.ID
	review.DocumentID = doc.ID
	if _, ok := language.Parse(review.Language); !ok {
		review.Language = string(tag)
	}
	return review, nil
}

func (e *Engine) generateReview(ctx context.Context, in prompt.ReviewInput) (*Review, error) {
	req := prompt.Review(in)
	req.Temperature = e.cfg.ReviewTemperature
	req.MaxTokens = e.cfg.ReviewMaxTokens

	var lastErr error
	for attempt := 1; attempt <= e.cfg.ParseAttempts; attempt++ {
		completion, err := e.generator.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		review, err := parseReview(completion.Text)
		if err == nil {
			return review, nil
		}
		lastErr = err
		e.logger.Warn("unparseable review", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, lastErr)
}

// Recommend measures how much of a document its notes cover and asks for
// study advice on the rest.
func (e *Engine) Recommend(ctx context.Context, documentID string) (*Recommendation, error) {
	doc, err := e.readyDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	notes, err := e.store.ListNotesByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	covered := make(map[int]bool)
	votes := make(map[language.Tag]int)
	titles := make([]string, 0, len(notes))
	for _, note := range notes {
		titles = append(titles, note.Title)
		votes[e.detector.Detect(e.parser.PlainText([]byte(note.Content)))]++

		sections, err := e.parser.Sections([]byte(note.Content))
		if err != nil {
			e.logger.Warn("failed to split note, using whole note", "note", note.ID, "error", err)
			sections = []markdown.Section{{Text: e.parser.PlainText([]byte(note.Content))}}
		}
		for _, sec := range sections {
			if strings.TrimSpace(sec.Text) == "" {
				continue
			}
			matches, err := e.retrieve(ctx, doc.VectorScope, sec.EmbeddingText(), e.cfg.CoverageTopK, e.cfg.CoverageThreshold)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				covered[m.Ordinal] = true
			}
		}
	}

	coverage := Coverage(len(covered), doc.TotalChunks)
	tag := majority(votes, e.detector.Fallback())

	chunks, err := e.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	var uncovered []prompt.Chunk
	for _, c := range chunks {
		if covered[c.Ordinal] {
			continue
		}
		if e.cfg.UncoveredChunks > 0 && len(uncovered) >= e.cfg.UncoveredChunks {
			break
		}
		uncovered = append(uncovered, prompt.Chunk{Ordinal: c.Ordinal, Text: c.Text})
	}

	title := doc.Metadata[storage.MetaTitle]
	if title == "" {
		title = doc.FileName
	}
	req := prompt.Recommend(prompt.RecommendInput{
		DocumentTitle:   title,
		Language:        tag,
		Coverage:        coverage,
		NoteTitles:      titles,
		Uncovered:       uncovered,
		MaxContextChars: e.cfg.MaxContextChars,
	})
	req.Temperature = e.cfg.RecommendTemperature
	req.MaxTokens = e.cfg.RecommendMaxTokens

	var rec *Recommendation
	var lastErr error
	for attempt := 1; attempt <= e.cfg.ParseAttempts && rec == nil; attempt++ {
		completion, err := e.generator.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		if rec, lastErr = parseRecommendation(completion.Text); lastErr != nil {
			e.logger.Warn("unparseable recommendation", "attempt", attempt, "error", lastErr)
		}
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, lastErr)
	}

	rec.DocumentID = doc.ID
	rec.CoveragePercentage = coverage
	rec.Language = string(tag)
	e.logger.Info("recommendation generated", "document", doc.ID, "notes", len(notes), "coverage", coverage)
	return rec, nil
}

func (e *Engine) retrieve(ctx context.Context, scope, text string, topK int, threshold float64) ([]vectorstore.Match, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrRetrieval, err)
	}
	matches, err := e.vectors.Query(ctx, vec, vectorstore.Query{Scope: scope, TopK: topK, ScoreThreshold: threshold})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrRetrieval, err)
	}
	return matches, nil
}

// Coverage is the percentage of total chunks that were covered, rounded to
// one decimal.
func Coverage(covered, total int) float64 {
	if total <= 0 || covered <= 0 {
		return 0
	}
	if covered > total {
		covered = total
	}
	return math.Round(1000*float64(covered)/float64(total)) / 10
}

// majority returns the most voted tag, or fallback on a tie or no votes.
func majority(votes map[language.Tag]int, fallback language.Tag) language.Tag {
	best, bestCount, tied := fallback, 0, false
	for tag, n := range votes {
		switch {
		case n > bestCount:
			best, bestCount, tied = tag, n, false
		case n == bestCount:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return fallback
	}
	return best
}

func toPromptChunks(matches []vectorstore.Match) []prompt.Chunk {
	out := make([]prompt.Chunk, len(matches))
	for i, m := range matches {
		out[i] = prompt.Chunk{Ordinal: m.Ordinal, Text: m.Text, Score: m.Score}
	}
	return out
}
