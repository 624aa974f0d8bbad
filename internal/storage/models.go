package storage

import "time"

// Status is the ingestion state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s can only be left through re-ingestion.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SourceType is how a document reached the system.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceWeb    SourceType = "url-web"
	SourceVideo  SourceType = "url-video"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceUpload, SourceWeb, SourceVideo:
		return true
	}
	return false
}

// Well-known Document.Metadata keys.
const (
	MetaPageCount          = "page_count"
	MetaByteSize           = "byte_size"
	MetaTitle              = "title"
	MetaLanguage           = "language"
	MetaUnindexedChunks    = "unindexed_chunks"
	MetaDedupOf            = "dedup_of"
	MetaTranscriptLanguage = "transcript_language"
)

// Document is one ingested source and its processing state.
type Document struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	SourceType   SourceType        `json:"source_type"`
	SourceKind   string            `json:"source_kind"`
	OriginRef    string            `json:"origin_ref"`
	FileName     string            `json:"file_name,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
	Status       Status            `json:"status"`
	Progress     int               `json:"progress"`
	TotalChunks  int               `json:"total_chunks"`
	ErrorMessage string            `json:"error_message,omitempty"`
	VectorScope  string            `json:"vector_scope,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SetMeta sets a metadata value, allocating the map on first use.
func (d *Document) SetMeta(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Chunk is an indexed segment of a document's normalized text.
type Chunk struct {
	DocumentID  string `json:"document_id"`
	Ordinal     int    `json:"ordinal"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	VectorID    string `json:"vector_id"`
}

// ChatSession groups the messages of a conversation about one document.
type ChatSession struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageMetadata describes how an assistant answer was produced.
type MessageMetadata struct {
	RetrievedChunkCount int      `json:"retrieved_chunk_count"`
	RelevanceScore      *float64 `json:"relevance_score,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	Language            string   `json:"language,omitempty"`
}

// ChatMessage is one turn of a session. Seq is assigned by the store and
// orders messages within their session.
type ChatMessage struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Note is a user's markdown study note, optionally linked to a document.
type Note struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
