// Package prompt assembles bounded generation requests from retrieved
// chunks, chat history and notes.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/bull/noteai-server/internal/language"
)

// CharsPerToken is the rough estimate used to turn token limits into
// character budgets.
const CharsPerToken = 4

// minFragment is the smallest tail of a chunk worth including when the
// budget cuts it.
const minFragment = 80

// Chunk is a retrieved passage.
type Chunk struct {
	Ordinal int
	Text    string
	Score   float64
}

// Truncate returns at most maxRunes runes of s, cut at a word boundary when
// one exists in the last fifth of the allowance. Non-positive limits return s.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	rs := []rune(s)
	if len(rs) <= maxRunes {
		return s
	}

	cut := maxRunes
	for i := maxRunes; i > maxRunes*4/5; i-- {
		if unicode.IsSpace(rs[i]) {
			cut = i
			break
		}
	}
	slog.Debug("truncating prompt text", "from_runes", len(rs), "to_runes", cut)
	return strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace)
}

// Context renders chunks in the given order as numbered passages, stopping
// when budget runes are used. It returns the text and how many chunks went
// in, counting a truncated final chunk. A non-positive budget is unlimited.
func Context(chunks []Chunk, budget int) (string, int) {
	var sb strings.Builder
	used, n := 0, 0
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] ", i+1)
		text := strings.TrimSpace(c.Text)
		sep := 0
		if n > 0 {
			sep = 2
		}
		cost := sep + len([]rune(header)) + len([]rune(text))

		if budget > 0 && used+cost > budget {
			remaining := budget - used - sep - len([]rune(header))
			if remaining < minFragment {
				break
			}
			text = Truncate(text, remaining)
			cost = sep + len([]rune(header)) + len([]rune(text))
		}

		if n > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(header)
		sb.WriteString(text)
		used += cost
		n++
		if budget > 0 && used >= budget {
			break
		}
	}
	return sb.String(), n
}

var notFound = map[language.Tag]string{
	language.Vietnamese: "Tôi không tìm thấy thông tin này trong tài liệu.",
	language.English:    "I could not find this information in the document.",
	language.Korean:     "문서에서 이 정보를 찾을 수 없습니다.",
	language.Japanese:   "資料の中にこの情報は見つかりませんでした。",
	language.Chinese:    "我在文档中找不到这方面的信息。",
}

// NotFoundPhrase is the fixed answer for questions the context cannot
// answer, in tag's language.
func NotFoundPhrase(tag language.Tag) string {
	if s, ok := notFound[tag]; ok {
		return s
	}
	return notFound[language.English]
}

// LanguageInstruction tells the model which language to answer in.
func LanguageInstruction(tag language.Tag) string {
	return fmt.Sprintf("Respond only in %s (%s).", tag.Name(), tag)
}
