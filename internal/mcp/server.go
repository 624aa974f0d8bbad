package mcp

import (
	"context"
	"log/slog"

	"github.com/bull/noteai-server/internal/analysis"
	"github.com/bull/noteai-server/internal/chat"
	"github.com/bull/noteai-server/internal/ingest"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server     *mcp.Server
	ingest     *ingest.Coordinator
	chat       *chat.Engine
	analysis   *analysis.Engine
	localFiles bool
	tools      []*mcp.Tool
	logger     *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Ingest   *ingest.Coordinator
	Chat     *chat.Engine
	Analysis *analysis.Engine
	// AllowLocalFiles lets create_document read file_path from the server's
	// filesystem. Enable it for stdio clients on the same machine only.
	AllowLocalFiles bool
	Version         string
	Logger          *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Ingest == nil || cfg.Chat == nil || cfg.Analysis == nil {
		return nil, ErrMissingDependency
	}
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "noteai-server",
		Version: version,
	}

	s := &Server{
		server:     mcp.NewServer(impl, nil),
		ingest:     cfg.Ingest,
		chat:       cfg.Chat,
		analysis:   cfg.Analysis,
		localFiles: cfg.AllowLocalFiles,
		logger:     logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	addTool(s, &mcp.Tool{
		Name:        "create_document",
		Description: "Ingest a document from an upload (PDF, DOCX, image), a web page, a GitHub markdown file or a YouTube video. Returns the document id; poll get_document_status until it is completed.",
	}, s.handleCreateDocument)

	addTool(s, &mcp.Tool{
		Name:        "get_document_status",
		Description: "Get the ingestion status, progress percentage, chunk count and error message of a document.",
	}, s.handleGetDocumentStatus)

	addTool(s, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a document with its chunks, vectors, chat sessions and messages. Linked notes are kept and unlinked.",
	}, s.handleDeleteDocument)

	addTool(s, &mcp.Tool{
		Name:        "reingest_document",
		Description: "Run ingestion again for a completed or failed document.",
	}, s.handleReingestDocument)

	addTool(s, &mcp.Tool{
		Name:        "create_chat_session",
		Description: "Open a chat session about a document.",
	}, s.handleCreateChatSession)

	addTool(s, &mcp.Tool{
		Name:        "list_chat_sessions",
		Description: "List the chat sessions of a document.",
	}, s.handleListChatSessions)

	addTool(s, &mcp.Tool{
		Name:        "send_message",
		Description: "Ask a question in a chat session. The answer is grounded on the session's document and written in the question's language.",
	}, s.handleSendMessage)

	addTool(s, &mcp.Tool{
		Name:        "get_messages",
		Description: "Get the messages of a chat session in the order they were sent.",
	}, s.handleGetMessages)

	addTool(s, &mcp.Tool{
		Name:        "create_note",
		Description: "Save a markdown study note, optionally linked to a document.",
	}, s.handleCreateNote)

	addTool(s, &mcp.Tool{
		Name:        "review_note",
		Description: "Review a note against its linked document: strengths, gaps, missing concepts and factual corrections.",
	}, s.handleReviewNote)

	addTool(s, &mcp.Tool{
		Name:        "get_recommendations",
		Description: "Measure how much of a document the user's notes cover and recommend what to study next.",
	}, s.handleGetRecommendations)
}

func addTool[In, Out any](s *Server, tool *mcp.Tool, handler mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s.server, tool, handler)
	s.tools = append(s.tools, tool)
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []*mcp.Tool {
	return s.tools
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
