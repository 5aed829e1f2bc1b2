package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/basonpark/ether-guru/internal/segmenter"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedElements never contribute text
var skippedElements = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Button:   true,
}

// blockElements are separated from their neighbours by a blank line
var blockElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Main:       true,
	atom.Blockquote: true,
	atom.Table:      true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.Dl:         true,
	atom.Figure:     true,
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// parseHTML converts an HTML page to Markdown-like text and returns the
// absolute, fragment-free links it contains
func parseHTML(body string, base *url.URL) (string, []string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", nil, err
	}

	w := &markdownWriter{}
	w.walk(contentRoot(doc))
	return w.String(), extractLinks(doc, base), nil
}

// contentRoot picks the main documentation body, falling back to <body>
func contentRoot(doc *html.Node) *html.Node {
	if n := findNode(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, "document")
	}); n != nil {
		return n
	}
	if n := findNode(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Main || attr(n, "role") == "main"
	}); n != nil {
		return n
	}
	if n := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body }); n != nil {
		return n
	}
	return doc
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func extractLinks(doc *html.Node, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := resolveLink(base, attr(n, "href")); ok && !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return links
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// markdownWriter renders a node tree as Markdown. Whitespace in text nodes
// is collapsed except inside <pre>, which becomes a fenced code block.
type markdownWriter struct {
	buf bytes.Buffer
}

func (w *markdownWriter) String() string {
	return strings.TrimSpace(w.buf.String())
}

func (w *markdownWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		w.children(n)
		return
	}

	if skippedElements[n.DataAtom] {
		return
	}

	if level, ok := headingLevels[n.DataAtom]; ok {
		w.blankLine()
		w.buf.WriteString(strings.Repeat("#", level) + " ")
		w.children(n)
		w.blankLine()
		return
	}

	switch n.DataAtom {
	case atom.A:
		// Sphinx permalink markers
		if !hasClass(n, "headerlink") {
			w.children(n)
		}
	case atom.Pre:
		w.codeBlock(n)
	case atom.Code:
		w.buf.WriteByte('`')
		w.buf.WriteString(strings.Join(strings.Fields(textContent(n)), " "))
		w.buf.WriteByte('`')
	case atom.Br:
		w.newline()
	case atom.Li:
		w.newline()
		w.buf.WriteString("- ")
		w.children(n)
		w.newline()
	case atom.Tr, atom.Dt, atom.Dd:
		w.newline()
		w.children(n)
		w.newline()
	case atom.Td, atom.Th:
		w.children(n)
		w.buf.WriteString(" ")
	default:
		block := blockElements[n.DataAtom]
		if block {
			w.blankLine()
		}
		w.children(n)
		if block {
			w.blankLine()
		}
	}
}

func (w *markdownWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *markdownWriter) text(s string) {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		if s != "" && !w.atLineStart() && !w.endsWith(' ') {
			w.buf.WriteByte(' ')
		}
		return
	}
	if isSpace(s[0]) && !w.atLineStart() && !w.endsWith(' ') {
		w.buf.WriteByte(' ')
	}
	w.buf.WriteString(collapsed)
	if isSpace(s[len(s)-1]) {
		w.buf.WriteByte(' ')
	}
}

func (w *markdownWriter) codeBlock(n *html.Node) {
	code := strings.Trim(textContent(n), "\n")
	if strings.TrimSpace(code) == "" {
		return
	}
	// A literal fence inside the block would end it early
	code = strings.ReplaceAll(code, segmenter.FenceMarker, "` ` `")

	w.blankLine()
	w.buf.WriteString(segmenter.FenceMarker)
	w.buf.WriteString(codeLanguage(n))
	w.buf.WriteByte('\n')
	w.buf.WriteString(code)
	w.buf.WriteByte('\n')
	w.buf.WriteString(segmenter.FenceMarker)
	w.blankLine()
}

// codeLanguage reads the language from highlight-<lang> on an ancestor
// or language-<lang> on a nested <code>
func codeLanguage(pre *html.Node) string {
	for p := pre; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, c := range strings.Fields(attr(p, "class")) {
			if lang, ok := strings.CutPrefix(c, "highlight-"); ok && lang != "default" {
				return lang
			}
		}
	}
	if code := findNode(pre, func(n *html.Node) bool { return n.DataAtom == atom.Code }); code != nil {
		for _, c := range strings.Fields(attr(code, "class")) {
			if lang, ok := strings.CutPrefix(c, "language-"); ok {
				return lang
			}
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func (w *markdownWriter) trimTrailingSpaces() {
	b := w.buf.Bytes()
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	w.buf.Truncate(i)
}

func (w *markdownWriter) newline() {
	w.trimTrailingSpaces()
	if w.buf.Len() > 0 && !w.endsWith('\n') {
		w.buf.WriteByte('\n')
	}
}

func (w *markdownWriter) blankLine() {
	w.trimTrailingSpaces()
	if w.buf.Len() == 0 {
		return
	}
	b := w.buf.Bytes()
	switch {
	case bytes.HasSuffix(b, []byte("\n\n")):
	case b[len(b)-1] == '\n':
		w.buf.WriteByte('\n')
	default:
		w.buf.WriteString("\n\n")
	}
}

func (w *markdownWriter) atLineStart() bool {
	return w.buf.Len() == 0 || w.endsWith('\n')
}

func (w *markdownWriter) endsWith(c byte) bool {
	b := w.buf.Bytes()
	return len(b) > 0 && b[len(b)-1] == c
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
