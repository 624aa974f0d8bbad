package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/noteai-server/internal/storage"
)

// NoteInput is a note to create or replace.
type NoteInput struct {
	ID         string
	UserID     string
	DocumentID string
	Title      string
	Content    string
}

// SaveNote creates or updates a note. Without a title the first markdown
// heading is used.
func (e *Engine) SaveNote(ctx context.Context, in NoteInput) (*storage.Note, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: note content is empty", storage.ErrInvalid)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		if titles, err := e.parser.Titles([]byte(content)); err == nil && len(titles) > 0 {
			title = titles[0]
		}
	}
	if title == "" {
		title = "Untitled note"
	}

	note := &storage.Note{
		ID:         in.ID,
		UserID:     in.UserID,
		DocumentID: in.DocumentID,
		Title:      title,
		Content:    content,
	}
	if err := e.store.SaveNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (e *Engine) GetNote(ctx context.Context, id string) (*storage.Note, error) {
	return e.store.GetNote(ctx, id)
}

func (e *Engine) ListNotes(ctx context.Context, documentID string) ([]*storage.Note, error) {
	return e.store.ListNotesByDocument(ctx, documentID)
}

func (e *Engine) DeleteNote(ctx context.Context, id string) error {
	return e.store.DeleteNote(ctx, id)
}
