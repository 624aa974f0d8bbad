package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/bull/noteai-server/internal/storage"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// WebExtractor fetches a page and keeps its readable text.
type WebExtractor struct {
	fetch *fetcher
}

var _ Extractor = (*WebExtractor)(nil)

func NewWebExtractor(cfg FetchConfig) *WebExtractor {
	return &WebExtractor{fetch: newFetcher(cfg)}
}

func (e *WebExtractor) Kind() Kind { return KindWeb }

func (e *WebExtractor) Load(ctx context.Context, src Source) (*Raw, error) {
	body, contentType, err := e.fetch.get(ctx, src.Ref)
	if err != nil {
		return nil, err
	}
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
	}
	return &Raw{Source: src, Data: body, MIMEType: contentType}, nil
}

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// blocks end on their own line.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true, atom.Table: true,
	atom.Section: true, atom.Article: true, atom.Main: true, atom.Header: true,
}

func (e *WebExtractor) Extract(ctx context.Context, raw *Raw) (*Result, error) {
	text, title := htmlText(raw.Data)
	return result(raw, text, map[string]string{
		storage.MetaTitle:    title,
		storage.MetaByteSize: strconv.Itoa(len(raw.Data)),
	})
}

// htmlText walks the token stream once. The title is read even though head
// content is otherwise skipped.
func htmlText(data []byte) (string, string) {
	z := html.NewTokenizer(bytes.NewReader(data))

	var sb, title strings.Builder
	depth := 0 // inside skipped elements
	inTitle := false
	space := false // the previous text ended in whitespace
	line := func() {
		s := sb.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String(), strings.Join(strings.Fields(title.String()), " ")

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Title {
				inTitle = true
				continue
			}
			if skipped[tok.DataAtom] && tt == html.StartTagToken {
				depth++
			}
			if blocks[tok.DataAtom] {
				line()
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Title {
				inTitle = false
				continue
			}
			if skipped[tok.DataAtom] && depth > 0 {
				depth--
			}
			if blocks[tok.DataAtom] {
				line()
			}

		case html.TextToken:
			text := string(z.Text())
			if inTitle {
				title.WriteString(text)
				continue
			}
			if depth > 0 {
				continue
			}
			words := strings.Fields(text)
			if len(words) == 0 {
				space = space || text != ""
				continue
			}
			s := sb.String()
			if len(s) > 0 && !strings.HasSuffix(s, "\n") && (space || startsWithSpace(text)) {
				sb.WriteByte(' ')
			}
			sb.WriteString(strings.Join(words, " "))
			space = endsWithSpace(text)
		}
	}
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeftFunc(s, unicode.IsSpace) != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRightFunc(s, unicode.IsSpace) != s
}
