// Package mcp exposes document ingestion, chat and note analysis as MCP tools.
package mcp

import "time"

// CreateDocumentInput defines the input parameters for the create_document tool.
type CreateDocumentInput struct {
	UserID string `json:"user_id" jsonschema:"owner of the document"`
	// SourceType is upload, url-web or url-video.
	SourceType string `json:"source_type" jsonschema:"one of upload, url-web or url-video"`
	// SourceRef is the URL for url-web and url-video sources.
	SourceRef string `json:"source_ref,omitempty" jsonschema:"URL of a web page, GitHub markdown file or YouTube video"`
	// FileName names an upload and selects its extractor by extension.
	FileName      string `json:"file_name,omitempty" jsonschema:"upload file name, for example lecture.pdf"`
	ContentBase64 string `json:"content_base64,omitempty" jsonschema:"base64 encoded upload bytes"`
	// FilePath reads an upload from the server's filesystem. Only honoured
	// when local files are enabled.
	FilePath string `json:"file_path,omitempty" jsonschema:"path of a local file to upload"`
	Wait     bool   `json:"wait,omitempty" jsonschema:"process the document before returning"`
}

// DocumentOutput is the status of one document.
type DocumentOutput struct {
	DocumentID         string            `json:"document_id"`
	Status             string            `json:"status"`
	ProgressPercentage int               `json:"progress_percentage"`
	TotalChunks        int               `json:"total_chunks"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	SourceType         string            `json:"source_type"`
	SourceKind         string            `json:"source_kind,omitempty"`
	FileName           string            `json:"file_name,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type DocumentIDInput struct {
	DocumentID string `json:"document_id" jsonschema:"id returned by create_document"`
}

type ReingestDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of a completed or failed document"`
	Wait       bool   `json:"wait,omitempty" jsonschema:"process the document before returning"`
}

type DeleteDocumentOutput struct {
	DocumentID string `json:"document_id"`
	Deleted    bool   `json:"deleted"`
}

type CreateChatSessionInput struct {
	DocumentID string `json:"document_id" jsonschema:"document to chat about"`
	UserID     string `json:"user_id,omitempty" jsonschema:"session owner, defaults to the document owner"`
	Title      string `json:"title,omitempty" jsonschema:"optional session title"`
}

// SessionOutput describes a chat session.
type SessionOutput struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListSessionsOutput struct {
	Sessions []SessionOutput `json:"sessions"`
	Count    int             `json:"count"`
}

type SendMessageInput struct {
	SessionID string `json:"session_id" jsonschema:"id returned by create_chat_session"`
	Content   string `json:"content" jsonschema:"the question to ask about the document"`
}

// MessageOutput is one chat message. The retrieval fields are only set on
// assistant messages.
type MessageOutput struct {
	MessageID           string    `json:"message_id"`
	Role                string    `json:"role"`
	Content             string    `json:"content"`
	RetrievedChunkCount int       `json:"retrieved_chunk_count,omitempty"`
	RelevanceScore      *float64  `json:"relevance_score,omitempty"`
	Confidence          *float64  `json:"confidence,omitempty"`
	Language            string    `json:"language,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type GetMessagesInput struct {
	SessionID string `json:"session_id" jsonschema:"id returned by create_chat_session"`
	Offset    int    `json:"offset,omitempty" jsonschema:"number of messages to skip"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of messages to return (default 50)"`
}

type GetMessagesOutput struct {
	Messages []MessageOutput `json:"messages"`
	Count    int             `json:"count"`
}

type CreateNoteInput struct {
	UserID     string `json:"user_id" jsonschema:"owner of the note"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"document the note studies"`
	Title      string `json:"title,omitempty" jsonschema:"note title, defaults to the first markdown heading"`
	Content    string `json:"content" jsonschema:"markdown content of the note"`
}

type NoteOutput struct {
	NoteID     string    `json:"note_id"`
	DocumentID string    `json:"document_id,omitempty"`
	Title      string    `json:"title"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ReviewNoteInput struct {
	NoteID string `json:"note_id" jsonschema:"id returned by create_note"`
}

type CorrectionOutput struct {
	Issue      string `json:"issue"`
	Correction string `json:"correction"`
}

// ReviewOutput is the structured feedback on a note.
type ReviewOutput struct {
	NoteID              string             `json:"note_id"`
	DocumentID          string             `json:"document_id"`
	OverallFeedback     string             `json:"overall_feedback"`
	Strengths           []string           `json:"strengths"`
	AreasForImprovement []string           `json:"areas_for_improvement"`
	MissingConcepts     []string           `json:"missing_concepts"`
	Corrections         []CorrectionOutput `json:"corrections"`
	SuggestionsToAdd    []string           `json:"suggestions_to_add"`
	AdditionalResources []string           `json:"additional_resources"`
	Language            string             `json:"language"`
}

// RecommendationOutput is the study advice for a document.
type RecommendationOutput struct {
	DocumentID         string   `json:"document_id"`
	CoveragePercentage float64  `json:"coverage_percentage"`
	Language           string   `json:"language"`
	MissingSections    []string `json:"missing_sections"`
	SuggestedTopics    []string `json:"suggested_topics"`
	StudyPath          []string `json:"study_path"`
	Recommendations    string   `json:"recommendations"`
}
