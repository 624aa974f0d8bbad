package prompt

import (
	"fmt"
	"strings"

	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
)

// ChatInput is everything a RAG answer is generated from.
type ChatInput struct {
	Question string
	Language language.Tag
	// Chunks must already be ordered by relevance.
	Chunks          []Chunk
	History         []generation.Message
	MaxContextChars int
	HistoryMessages int
}

// Chat builds the request for a context-grounded answer. The returned count
// is the number of chunks that fit the context budget.
func Chat(in ChatInput) (generation.Request, int) {
	passages, used := Context(in.Chunks, in.MaxContextChars)
	if used == 0 {
		passages = "(no relevant passages were found)"
	}

	var sys strings.Builder
	sys.WriteString("You are a study assistant. Answer the user's question using only the document passages below.\n")
	sys.WriteString("Be accurate and detailed, and do not use outside knowledge.\n")
	fmt.Fprintf(&sys, "If the passages do not contain the answer, reply exactly: %q\n", NotFoundPhrase(in.Language))
	sys.WriteString(LanguageInstruction(in.Language))
	sys.WriteString("\n\nDocument passages:\n")
	sys.WriteString(passages)

	history := in.History
	if in.HistoryMessages >= 0 && len(history) > in.HistoryMessages {
		history = history[len(history)-in.HistoryMessages:]
	}

	messages := make([]generation.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, generation.Message{Role: generation.RoleUser, Content: in.Question})

	return generation.Request{System: sys.String(), Messages: messages}, used
}
