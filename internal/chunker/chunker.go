// Package chunker splits normalized document text into overlapping, bounded
// segments for embedding and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrEmptyText is returned for empty or whitespace-only input.
var ErrEmptyText = errors.New("chunker: empty text")

// Config bounds chunk size and overlap. All lengths are in runes.
type Config struct {
	// MaxChars is the upper bound of a chunk's length.
	MaxChars int
	// Overlap is the number of runes repeated at the start of the next chunk.
	Overlap int
	// Window is how far back from MaxChars a natural break point is searched.
	Window int
}

// DefaultConfig returns 1000-rune chunks with a 200-rune overlap.
func DefaultConfig() Config {
	return Config{MaxChars: 1000, Overlap: 200, Window: 200}
}

// Chunk is one segment of the input. Start and End are rune offsets of Text
// within the input.
type Chunk struct {
	Ordinal int
	Text    string
	Start   int
	End     int
}

// Chunker is deterministic: the same text and Config always produce the same
// boundaries.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxChars <= 0 {
		return nil, fmt.Errorf("chunker: max chars must be positive, got %d", cfg.MaxChars)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", cfg.MaxChars, cfg.Overlap)
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.MaxChars / 5
	}
	// A break point must leave a chunk longer than the overlap, otherwise the
	// next chunk could not advance past it.
	if limit := cfg.MaxChars - cfg.Overlap - 1; cfg.Window > limit {
		cfg.Window = limit
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split segments text. Text no longer than MaxChars yields exactly one chunk.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	rs := []rune(text)
	n := len(rs)

	var chunks []Chunk
	start := skipSpace(rs, 0)
	for start < n {
		end := start + c.cfg.MaxChars
		if end >= n {
			end = n
		} else if bp := c.findBreakPoint(rs, start, end); bp > start {
			end = bp
		}

		trimmed := end
		for trimmed > start && unicode.IsSpace(rs[trimmed-1]) {
			trimmed--
		}
		if trimmed > start {
			chunks = append(chunks, Chunk{
				Ordinal: len(chunks),
				Text:    string(rs[start:trimmed]),
				Start:   start,
				End:     trimmed,
			})
		}

		if end >= n {
			break
		}

		next := end - c.cfg.Overlap
		if c.cfg.Overlap > 0 {
			// Start the overlap on a word boundary when one exists.
			for i := next; i < end; i++ {
				if unicode.IsSpace(rs[i]) {
					next = i + 1
					break
				}
			}
		}
		if next <= start {
			next = start + 1
		}
		start = skipSpace(rs, next)
	}

	return chunks, nil
}

// findBreakPoint looks for the latest natural boundary in the Window runes
// before maxEnd: paragraph, then sentence, then line, then word.
func (c *Chunker) findBreakPoint(rs []rune, start, maxEnd int) int {
	searchStart := maxEnd - c.cfg.Window
	if searchStart < start {
		searchStart = start
	}

	for i := maxEnd - 2; i >= searchStart; i-- {
		if rs[i] == '\n' && rs[i+1] == '\n' {
			return i + 2
		}
	}

	for i := maxEnd - 1; i >= searchStart; i-- {
		if isFullWidthStop(rs[i]) {
			return i + 1
		}
		if isSentenceEnd(rs[i]) && i+1 < len(rs) && unicode.IsSpace(rs[i+1]) {
			return i + 1
		}
	}

	for i := maxEnd - 1; i >= searchStart; i-- {
		if rs[i] == '\n' {
			return i + 1
		}
	}

	for i := maxEnd - 1; i >= searchStart; i-- {
		if unicode.IsSpace(rs[i]) {
			return i + 1
		}
	}

	return maxEnd
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isFullWidthStop(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return i
}
