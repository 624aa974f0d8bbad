package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bull/noteai-server/internal/analysis"
	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultMessageLimit = 50

// handleCreateDocument creates a document from exactly one of source_ref,
// content_base64 or file_path.
func (s *Server) handleCreateDocument(ctx context.Context, _ *mcp.CallToolRequest, input CreateDocumentInput) (
	*mcp.CallToolResult, DocumentOutput, error,
) {
	req := ingest.CreateRequest{
		UserID:     strings.TrimSpace(input.UserID),
		SourceType: storage.SourceType(strings.TrimSpace(input.SourceType)),
		SourceRef:  input.SourceRef,
		FileName:   input.FileName,
		Wait:       input.Wait,
	}

	if req.SourceType == storage.SourceUpload {
		content, name, err := s.uploadContent(input)
		if err != nil {
			return nil, DocumentOutput{}, toolError(err)
		}
		req.Content = content
		if req.FileName == "" {
			req.FileName = name
		}
	}

	doc, err := s.ingest.Create(ctx, req)
	if err != nil {
		return nil, DocumentOutput{}, toolError(err)
	}
	s.logger.Info("create_document", "document", doc.ID, "status", doc.Status)
	return nil, documentOutput(doc), nil
}

func (s *Server) uploadContent(input CreateDocumentInput) ([]byte, string, error) {
	switch {
	case input.ContentBase64 != "" && input.FilePath != "":
		return nil, "", fmt.Errorf("%w: give content_base64 or file_path, not both", storage.ErrInvalid)
	case input.ContentBase64 != "":
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.ContentBase64))
		if err != nil {
			return nil, "", fmt.Errorf("%w: content_base64: %v", storage.ErrInvalid, err)
		}
		return data, "", nil
	case input.FilePath != "":
		if !s.localFiles {
			return nil, "", ErrLocalFilesDisabled
		}
		data, err := os.ReadFile(input.FilePath)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read %s: %v", storage.ErrInvalid, input.FilePath, err)
		}
		return data, filepath.Base(input.FilePath), nil
	default:
		return nil, "", fmt.Errorf("%w: upload needs content_base64 or file_path", storage.ErrInvalid)
	}
}

func (s *Server) handleGetDocumentStatus(ctx context.Context, _ *mcp.CallToolRequest, input DocumentIDInput) (
	*mcp.CallToolResult, DocumentOutput, error,
) {
	doc, err := s.ingest.Status(ctx, input.DocumentID)
	if err != nil {
		return nil, DocumentOutput{}, toolError(fmt.Errorf("document %s: %w", input.DocumentID, err))
	}
	return nil, documentOutput(doc), nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, input DocumentIDInput) (
	*mcp.CallToolResult, DeleteDocumentOutput, error,
) {
	if err := s.ingest.Delete(ctx, input.DocumentID); err != nil {
		return nil, DeleteDocumentOutput{}, toolError(err)
	}
	return nil, DeleteDocumentOutput{DocumentID: input.DocumentID, Deleted: true}, nil
}

func (s *Server) handleReingestDocument(ctx context.Context, _ *mcp.CallToolRequest, input ReingestDocumentInput) (
	*mcp.CallToolResult, DocumentOutput, error,
) {
	doc, err := s.ingest.Reingest(ctx, input.DocumentID, input.Wait)
	if err != nil {
		return nil, DocumentOutput{}, toolError(err)
	}
	return nil, documentOutput(doc), nil
}

func (s *Server) handleCreateChatSession(ctx context.Context, _ *mcp.CallToolRequest, input CreateChatSessionInput) (
	*mcp.CallToolResult, SessionOutput, error,
) {
	session, err := s.chat.CreateSession(ctx, input.DocumentID, input.UserID, input.Title)
	if err != nil {
		return nil, SessionOutput{}, toolError(err)
	}
	return nil, sessionOutput(session), nil
}

func (s *Server) handleListChatSessions(ctx context.Context, _ *mcp.CallToolRequest, input DocumentIDInput) (
	*mcp.CallToolResult, ListSessionsOutput, error,
) {
	sessions, err := s.chat.ListSessions(ctx, input.DocumentID)
	if err != nil {
		return nil, ListSessionsOutput{}, toolError(err)
	}
	out := ListSessionsOutput{Sessions: make([]SessionOutput, len(sessions)), Count: len(sessions)}
	for i, session := range sessions {
		out.Sessions[i] = sessionOutput(session)
	}
	return nil, out, nil
}

func (s *Server) handleSendMessage(ctx context.Context, _ *mcp.CallToolRequest, input SendMessageInput) (
	*mcp.CallToolResult, MessageOutput, error,
) {
	msg, err := s.chat.Send(ctx, input.SessionID, input.Content)
	if err != nil {
		return nil, MessageOutput{}, toolError(err)
	}
	return nil, messageOutput(msg), nil
}

func (s *Server) handleGetMessages(ctx context.Context, _ *mcp.CallToolRequest, input GetMessagesInput) (
	*mcp.CallToolResult, GetMessagesOutput, error,
) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	msgs, err := s.chat.Messages(ctx, input.SessionID, input.Offset, limit)
	if err != nil {
		return nil, GetMessagesOutput{}, toolError(err)
	}
	out := GetMessagesOutput{Messages: make([]MessageOutput, len(msgs)), Count: len(msgs)}
	for i, msg := range msgs {
		out.Messages[i] = messageOutput(msg)
	}
	return nil, out, nil
}

func (s *Server) handleCreateNote(ctx context.Context, _ *mcp.CallToolRequest, input CreateNoteInput) (
	*mcp.CallToolResult, NoteOutput, error,
) {
	note, err := s.analysis.SaveNote(ctx, analysis.NoteInput{
		UserID:     strings.TrimSpace(input.UserID),
		DocumentID: strings.TrimSpace(input.DocumentID),
		Title:      input.Title,
		Content:    input.Content,
	})
	if err != nil {
		return nil, NoteOutput{}, toolError(err)
	}
	return nil, NoteOutput{NoteID: note.ID, DocumentID: note.DocumentID, Title: note.Title, UpdatedAt: note.UpdatedAt}, nil
}

func (s *Server) handleReviewNote(ctx context.Context, _ *mcp.CallToolRequest, input ReviewNoteInput) (
	*mcp.CallToolResult, ReviewOutput, error,
) {
	review, err := s.analysis.Review(ctx, input.NoteID)
	if err != nil {
		return nil, ReviewOutput{}, toolError(err)
	}
	out := ReviewOutput{
		NoteID:              review.NoteID,
		DocumentID:          review.DocumentID,
		OverallFeedback:     review.OverallFeedback,
		Strengths:           nonNil(review.Strengths),
		AreasForImprovement: nonNil(review.AreasForImprovement),
		MissingConcepts:     nonNil(review.MissingConcepts),
		Corrections:         make([]CorrectionOutput, len(review.Corrections)),
		SuggestionsToAdd:    nonNil(review.SuggestionsToAdd),
		AdditionalResources: nonNil(review.AdditionalResources),
		Language:            review.Language,
	}
	for i, c := range review.Corrections {
		out.Corrections[i] = CorrectionOutput{Issue: c.Issue, Correction: c.Correction}
	}
	return nil, out, nil
}

func (s *Server) handleGetRecommendations(ctx context.Context, _ *mcp.CallToolRequest, input DocumentIDInput) (
	*mcp.CallToolResult, RecommendationOutput, error,
) {
	rec, err := s.analysis.Recommend(ctx, input.DocumentID)
	if err != nil {
		return nil, RecommendationOutput{}, toolError(err)
	}
	return nil, RecommendationOutput{
		DocumentID:         rec.DocumentID,
		CoveragePercentage: rec.CoveragePercentage,
		Language:           rec.Language,
		MissingSections:    nonNil(rec.MissingSections),
		SuggestedTopics:    nonNil(rec.SuggestedTopics),
		StudyPath:          nonNil(rec.StudyPath),
		Recommendations:    string(rec.Recommendations),
	}, nil
}

func documentOutput(doc *storage.Document) DocumentOutput {
	return DocumentOutput{
		DocumentID:         doc.ID,
		Status:             string(doc.Status),
		ProgressPercentage: doc.Progress,
		TotalChunks:        doc.TotalChunks,
		ErrorMessage:       doc.ErrorMessage,
		SourceType:         string(doc.SourceType),
		SourceKind:         doc.SourceKind,
		FileName:           doc.FileName,
		Metadata:           doc.Metadata,
		UpdatedAt:          doc.UpdatedAt,
	}
}

func sessionOutput(session *storage.ChatSession) SessionOutput {
	return SessionOutput{
		SessionID:  session.ID,
		DocumentID: session.DocumentID,
		UserID:     session.UserID,
		Title:      session.Title,
		CreatedAt:  session.CreatedAt,
	}
}

func messageOutput(msg *storage.ChatMessage) MessageOutput {
	out := MessageOutput{
		MessageID: msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if m := msg.Metadata; m != nil {
		out.RetrievedChunkCount = m.RetrievedChunkCount
		out.RelevanceScore = m.RelevanceScore
		out.Confidence = m.Confidence
		out.Language = m.Language
	}
	return out
}

func nonNil[T ~[]string](list T) []string {
	if list == nil {
		return []string{}
	}
	return []string(list)
}
