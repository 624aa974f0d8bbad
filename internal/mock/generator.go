package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/bull/noteai-server/internal/generation"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/prompt"
)

// Generator is a test double for generation.Generator and extract.OCR.
type Generator struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, req generation.Request) (*generation.Completion, error)
	// OCRFunc is called by OCR if set.
	OCRFunc func(ctx context.Context, image []byte, mimeType string) (string, error)

	mu       sync.Mutex
	requests []generation.Request
}

var _ generation.Generator = (*Generator)(nil)

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate records req and answers it.
func (m *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	confidence := 0.9
	return &generation.Completion{Text: defaultAnswer(req), Confidence: &confidence}, nil
}

// OCR returns a fixed transcription unless OCRFunc is set.
func (m *Generator) OCR(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.OCRFunc != nil {
		return m.OCRFunc(ctx, image, mimeType)
	}
	return "Mock transcription of an uploaded image.", nil
}

// Requests returns a copy of every request seen so far.
func (m *Generator) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

// CallCount returns the number of Generate calls.
func (m *Generator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func defaultAnswer(req generation.Request) string {
	tag := requestedLanguage(req.System)
	var user string
	if n := len(req.Messages); n > 0 {
		user = req.Messages[n-1].Content
	}

	switch {
	case req.JSON && strings.Contains(user, `"missing_sections"`):
		return recommendJSON(tag)
	case req.JSON && strings.Contains(user, `"overall_feedback"`):
		return reviewJSON(tag)
	}

	passage := firstPassage(req.System)
	if passage == "" {
		return prompt.NotFoundPhrase(tag)
	}
	lead := "According to the document:"
	if tag == language.Vietnamese {
		lead = "Theo tài liệu:"
	}
	return lead + " " + prompt.Truncate(passage, 300)
}

// requestedLanguage reads the tag from prompt.LanguageInstruction output.
func requestedLanguage(system string) language.Tag {
	const marker = "Respond only in "
	i := strings.Index(system, marker)
	if i < 0 {
		return language.English
	}
	rest := system[i+len(marker):]
	open, end := strings.IndexByte(rest, '('), strings.IndexByte(rest, ')')
	if open < 0 || end < open {
		return language.English
	}
	if tag, ok := language.Parse(rest[open+1 : end]); ok {
		return tag
	}
	return language.English
}

func firstPassage(system string) string {
	i := strings.Index(system, "[1] ")
	if i < 0 {
		return ""
	}
	rest := system[i+4:]
	if j := strings.Index(rest, "\n\n["); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func reviewJSON(tag language.Tag) string {
	review := map[string]any{
		"overall_feedback":      "Your note has a solid foundation but should expand on the key concepts of the document.",
		"strengths":             []string{"Clear structure with headings", "Covers the basic concepts"},
		"areas_for_improvement": []string{"Add specific examples from the source", "Define the key terms"},
		"missing_concepts":      []string{"Advanced topics mentioned in the document"},
		"corrections":           []map[string]string{},
		"suggestions_to_add":    []string{"Summarize the key takeaways at the end"},
		"additional_resources":  []string{"Review the related chapters"},
		"language":              string(tag),
	}
	if tag == language.Vietnamese {
		review["overall_feedback"] = "Ghi chú của bạn có nền tảng tốt nhưng cần mở rộng thêm các khái niệm chính trong tài liệu."
		review["strengths"] = []string{"Cấu trúc rõ ràng với các tiêu đề", "Bao quát được các khái niệm cơ bản"}
		review["areas_for_improvement"] = []string{"Bổ sung ví dụ cụ thể từ tài liệu", "Định nghĩa rõ các thuật ngữ chính"}
		review["missing_concepts"] = []string{"Các chủ đề nâng cao được đề cập trong tài liệu"}
		review["suggestions_to_add"] = []string{"Tóm tắt các ý chính ở cuối ghi chú"}
		review["additional_resources"] = []string{"Xem lại các chương liên quan"}
	}
	b, _ := json.Marshal(review)
	return string(b)
}

func recommendJSON(tag language.Tag) string {
	rec := map[string]any{
		"missing_sections": []string{"Sections of the document not yet covered by your notes"},
		"suggested_topics": []string{"Core concepts of the uncovered passages"},
		"study_path":       []string{"Read the uncovered passages", "Write a note for each", "Review with review_note"},
		"recommendations":  "Focus on the passages your notes do not cover yet.",
	}
	if tag == language.Vietnamese {
		rec["missing_sections"] = []string{"Các phần của tài liệu chưa có trong ghi chú"}
		rec["suggested_topics"] = []string{"Các khái niệm cốt lõi của những đoạn chưa học"}
		rec["study_path"] = []string{"Đọc các đoạn chưa học", "Viết ghi chú cho từng phần", "Nhờ nhận xét ghi chú"}
		rec["recommendations"] = "Hãy tập trung vào những phần tài liệu mà ghi chú của bạn chưa đề cập."
	}
	b, _ := json.Marshal(rec)
	return string(b)
}
