// Package chat answers questions about one document with retrieval-augmented
// generation and keeps each session's history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/noteai-server/internal/embedding"
	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/lock"
	"github.com/bull/noteai-server/internal/prompt"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

// Store is the persistence the engine needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	storage.ChatStore
}

// Config tunes retrieval and generation.
type Config struct {
	TopK            int
	ScoreThreshold  float64
	MaxContextChars int
	// HistoryMessages is how many prior messages are replayed to the model.
	HistoryMessages int
	Temperature     float64
	MaxTokens       int
}

// DefaultConfig retrieves 5 chunks scoring at least 0.3 and answers at
// temperature 0.7.
func DefaultConfig() Config {
	return Config{
		TopK:            5,
		ScoreThreshold:  0.3,
		MaxContextChars: 6000,
		HistoryMessages: 10,
		Temperature:     0.7,
		MaxTokens:       1000,
	}
}

// Engine serializes sends per session. Sessions never wait on each other.
type Engine struct {
	store     Store
	embedder  embedding.Embedder
	vectors   vectorstore.Store
	generator generation.Generator
	detector  *language.Detector
	queue     *lock.Queue
	cfg       Config
	logger    *slog.Logger
}

// New creates an engine. A nil detector uses the Vietnamese fallback.
func New(store Store, embedder embedding.Embedder, vectors vectorstore.Store, generator generation.Generator, detector *language.Detector, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = language.New(language.Vietnamese, 0)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Engine{
		store:     store,
		embedder:  embedder,
		vectors:   vectors,
		generator: generator,
		detector:  detector,
		queue:     lock.NewQueue(),
		cfg:       cfg,
		logger:    logger.With("component", "chat"),
	}
}

// CreateSession opens a session on an existing document. The user defaults
// to the document owner.
func (e *Engine) CreateSession(ctx context.Context, documentID, userID, title string) (*storage.ChatSession, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, err)
	}
	if userID == "" {
		userID = doc.UserID
	}
	session := &storage.ChatSession{DocumentID: doc.ID, UserID: userID, Title: strings.TrimSpace(title)}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	e.logger.Info("session created", "session", session.ID, "document", doc.ID)
	return session, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (*storage.ChatSession, error) {
	return e.store.GetSession(ctx, id)
}

func (e *Engine) ListSessions(ctx context.Context, documentID string) ([]*storage.ChatSession, error) {
	return e.store.ListSessions(ctx, documentID)
}

// DeleteSession waits for in-flight sends of the session, then removes it
// with its messages.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	release, err := e.queue.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	if _, err := e.store.GetSession(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteSession(ctx, id)
}

// Messages returns a page of a session's messages in send order. A limit of
// zero or less returns everything after offset.
func (e *Engine) Messages(ctx context.Context, sessionID string, offset, limit int) ([]*storage.ChatMessage, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.ListMessages(ctx, sessionID, offset, limit)
}

// Send answers content within a session and returns the assistant message.
// Missing sessions or documents and documents that are not completed are
// rejected before anything is written. Once the user message is stored it
// stays, even when retrieval or generation fails.
func (e *Engine) Send(ctx context.Context, sessionID, content string) (*storage.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	release, err := e.queue.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	doc, err := e.store.GetDocument(ctx, session.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", session.DocumentID, err)
	}
	if doc.Status != storage.StatusCompleted {
		return nil, fmt.Errorf("%w: document %s is %s", ErrDocumentNotReady, doc.ID, doc.Status)
	}

	history, err := e.history(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tag := e.detector.Detect(content)
	userMsg := &storage.ChatMessage{
		SessionID: sessionID,
		Role:      storage.RoleUser,
		Content:   content,
		Metadata:  &storage.MessageMetadata{Language: string(tag)},
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	start := time.Now()
	matches, err := e.retrieve(ctx, doc.VectorScope, content)
	if err != nil {
		e.logger.Warn("retrieval failed", "session", sessionID, "error", err)
		return nil, err
	}

	chunks := make([]prompt.Chunk, len(matches))
	for i, m := range matches {
		chunks[i] = prompt.Chunk{Ordinal: m.Ordinal, Text: m.Text, Score: m.Score}
	}
	req, used := prompt.Chat(prompt.ChatInput{
		Question:        content,
		Language:        tag,
		Chunks:          chunks,
		History:         history,
		MaxContextChars: e.cfg.MaxContextChars,
		HistoryMessages: e.cfg.HistoryMessages,
	})
	req.Temperature = e.cfg.Temperature
	req.MaxTokens = e.cfg.MaxTokens

	completion, err := e.generator.Generate(ctx, req)
	if err != nil {
		e.logger.Warn("generation failed", "session", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	meta := &storage.MessageMetadata{
		RetrievedChunkCount: used,
		Confidence:          completion.Confidence,
		Language:            string(tag),
	}
	if len(matches) > 0 {
		top := matches[0].Score
		meta.RelevanceScore = &top
	}
	answer := &storage.ChatMessage{
		SessionID: sessionID,
		Role:      storage.RoleAssistant,
		Content:   strings.TrimSpace(completion.Text),
		Metadata:  meta,
	}
	if err := e.store.AppendMessage(ctx, answer); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	e.logger.Debug("message answered",
		"session", sessionID,
		"chunks", used,
		"language", tag,
		"duration", time.Since(start),
	)
	return answer, nil
}

func (e *Engine) retrieve(ctx context.Context, scope, question string) ([]vectorstore.Match, error) {
	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", ErrRetrieval, err)
	}
	matches, err := e.vectors.Query(ctx, vec, vectorstore.Query{
		Scope:          scope,
		TopK:           e.cfg.TopK,
		ScoreThreshold: e.cfg.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query vectors: %v", ErrRetrieval, err)
	}
	return matches, nil
}

// history loads the prior turns of a session in prompt form.
func (e *Engine) history(ctx context.Context, sessionID string) ([]generation.Message, error) {
	msgs, err := e.store.ListMessages(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := e.cfg.HistoryMessages; n >= 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]generation.Message, 0, len(msgs))
	for _, m := range msgs {
		role := generation.RoleUser
		if m.Role == storage.RoleAssistant {
			role = generation.RoleAssistant
		}
		out = append(out, generation.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

// IsClientError reports whether err should be shown to the caller as a bad
// request rather than a service failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDocumentNotReady) || errors.Is(err, ErrEmptyMessage)
}
