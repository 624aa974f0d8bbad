// Package markdown parses user notes and markdown sources into headed
// sections and plain text.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Section is the markdown between one heading and the next.
type Section struct {
	Index      int    // Position in document (0, 1, 2...)
	HeaderPath string // Hierarchy: "# Note Title > ## Topic"
	Title      string // Heading text, empty for the preface
	Content    string // Markdown source of the section including its heading
	Text       string // Plain text of Content
}

// EmbeddingText is the header path followed by the section's plain text.
func (s Section) EmbeddingText() string {
	if s.HeaderPath == "" {
		return s.Text
	}
	return s.HeaderPath + "\n\n" + s.Text
}

// Parser wraps a goldmark instance with auto-generated heading IDs.
type Parser struct {
	md       goldmark.Markdown
	maxDepth int
}

// NewParser creates a parser that splits at headings of depth 1 to 3.
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Parser{md: md, maxDepth: 3}
}

// Sections splits source at heading boundaries. Content before the first
// heading becomes a preface section with an empty header path. A document
// without headings is a single section.
func (p *Parser) Sections(source []byte) ([]Section, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(p.maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var headings []heading
	flatten(doc, source, tree.Items, nil, &headings)

	var sections []Section
	add := func(title, headerPath, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		sections = append(sections, Section{
			Index:      len(sections),
			HeaderPath: headerPath,
			Title:      title,
			Content:    content,
			Text:       p.PlainText([]byte(content)),
		})
	}

	if len(headings) == 0 {
		add("", "", strings.TrimSpace(string(source)))
		return sections, nil
	}

	if first := headings[0].start; first > 0 {
		add("", "", extractContent(source, 0, first))
	}
	for i, h := range headings {
		end := len(source)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		add(h.title, h.path, extractContent(source, h.start, end))
	}

	return sections, nil
}

// Titles returns the heading text of every section that has one.
func (p *Parser) Titles(source []byte) ([]string, error) {
	sections, err := p.Sections(source)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	return titles, nil
}

type heading struct {
	title string
	path  string
	start int
}

// flatten walks TOC items in document order, recording where each heading's
// source line begins.
func flatten(doc ast.Node, source []byte, items toc.Items, ancestors []string, out *[]heading) {
	for _, item := range items {
		currentPath := append(append([]string(nil), ancestors...), string(item.Title))

		if node := findHeaderByID(doc, string(item.ID)); node != nil && node.Lines().Len() > 0 {
			*out = append(*out, heading{
				title: string(item.Title),
				path:  formatHeaderPath(currentPath),
				start: lineStart(source, node.Lines().At(0).Start),
			})
		}

		if len(item.Items) > 0 {
			flatten(doc, source, item.Items, currentPath, out)
		}
	}
}

// lineStart moves a heading's text offset back to the beginning of its line
// so that a section includes its own "#" markers.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	if len(path) == 0 {
		return ""
	}

	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}

	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			heading := n.(*ast.Heading)
			headingID, ok := heading.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

func extractContent(source []byte, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(source) {
		end = len(source)
	}
	if start >= end {
		return ""
	}
	return strings.TrimSpace(string(source[start:end]))
}
