package prompt

import (
	"fmt"
	"strings"

	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
)

// ReviewInput is a note and the document passages it is judged against.
type ReviewInput struct {
	Title    string
	Note     string
	Language language.Tag
	Chunks   []Chunk
	// MaxContextChars bounds the passages. MaxNoteChars bounds the note.
	MaxContextChars int
	MaxNoteChars    int
	// Strict adds a stronger language requirement after a reply came back in
	// the wrong language.
	Strict bool
}

const reviewSchema = `{
  "overall_feedback": "string, 2-4 sentences",
  "strengths": ["string"],
  "areas_for_improvement": ["string"],
  "missing_concepts": ["concept from the source that the note does not cover"],
  "corrections": [{"issue": "what the note gets wrong", "correction": "what the source says"}],
  "suggestions_to_add": ["specific content from the source to add"],
  "additional_resources": ["related topic to explore"],
  "language": "BCP 47 code of the language you wrote in"
}`

// Review builds the structured note review request.
func Review(in ReviewInput) generation.Request {
	passages, _ := Context(in.Chunks, in.MaxContextChars)
	if passages == "" {
		passages = "(no source passages available)"
	}

	var sys strings.Builder
	sys.WriteString("You are an expert educational reviewer giving detailed, constructive feedback on student notes.\n")
	sys.WriteString("Judge the note only against the source material. Reply with a single JSON object and nothing else.\n")
	sys.WriteString(LanguageInstruction(in.Language))
	if in.Strict {
		fmt.Fprintf(&sys, "\nEvery string value in the JSON must be written in %s, even if the source material uses another language.", in.Language.Name())
	}

	var user strings.Builder
	fmt.Fprintf(&user, "[Source material]\n%s\n\n", passages)
	fmt.Fprintf(&user, "[Student note]\nTitle: %s\n%s\n\n", in.Title, Truncate(in.Note, in.MaxNoteChars))
	user.WriteString("[Task]\nReview the note. List 2-3 strengths, 2-3 areas for improvement, 2-4 missing concepts, ")
	user.WriteString("3-5 suggestions to add, any factual corrections and 2-3 additional resources.\n")
	fmt.Fprintf(&user, "Use this JSON shape:\n%s", reviewSchema)

	return generation.Request{
		System:   sys.String(),
		Messages: []generation.Message{{Role: generation.RoleUser, Content: user.String()}},
		JSON:     true,
	}
}

// RecommendInput describes what a reader's notes leave uncovered.
type RecommendInput struct {
	DocumentTitle   string
	Language        language.Tag
	Coverage        float64
	NoteTitles      []string
	Uncovered       []Chunk
	MaxContextChars int
}

const recommendSchema = `{
  "missing_sections": ["part of the document the notes do not cover"],
  "suggested_topics": ["topic to study next"],
  "study_path": ["ordered study step"],
  "recommendations": "string, a short paragraph of advice"
}`

// Recommend builds the study recommendation request.
func Recommend(in RecommendInput) generation.Request {
	passages, _ := Context(in.Uncovered, in.MaxContextChars)
	if passages == "" {
		passages = "(the notes cover every passage)"
	}
	titles := "(no notes yet)"
	if len(in.NoteTitles) > 0 {
		titles = "- " + strings.Join(in.NoteTitles, "\n- ")
	}

	var sys strings.Builder
	sys.WriteString("You are a study coach. Recommend what the student should study next based on the parts of the document their notes do not cover.\n")
	sys.WriteString("Reply with a single JSON object and nothing else.\n")
	sys.WriteString(LanguageInstruction(in.Language))

	var user strings.Builder
	if in.DocumentTitle != "" {
		fmt.Fprintf(&user, "Document: %s\n", in.DocumentTitle)
	}
	fmt.Fprintf(&user, "Note coverage: %.1f%% of the document\n\n", in.Coverage)
	fmt.Fprintf(&user, "[Student notes]\n%s\n\n", titles)
	fmt.Fprintf(&user, "[Uncovered passages]\n%s\n\n", passages)
	fmt.Fprintf(&user, "Use this JSON shape:\n%s", recommendSchema)

	return generation.Request{
		System:   sys.String(),
		Messages: []generation.Message{{Role: generation.RoleUser, Content: user.String()}},
		JSON:     true,
	}
}
