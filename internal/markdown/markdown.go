// Package markdown converts worker Markdown into the HTML subset the
// Telegram Bot API accepts (b, i, s, code, pre, a, blockquote).
// Block structure is flattened to text with newlines since the API has
// no block-level markup beyond pre and blockquote.
package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

var blankRuns = regexp.MustCompile(`\n{3,}`)

// ToTelegramHTML renders src as Telegram-safe HTML.
func ToTelegramHTML(src string) string {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	r := renderer{src: source}
	r.children(&b, doc)

	out := blankRuns.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

type renderer struct {
	src   []byte
	depth int // list nesting
}

func (r *renderer) children(b *strings.Builder, n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.node(b, c)
	}
}

func (r *renderer) node(b *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		b.WriteString("<b>")
		r.children(b, n)
		b.WriteString("</b>\n\n")
	case *ast.Paragraph:
		r.children(b, n)
		b.WriteString("\n\n")
	case *ast.TextBlock:
		r.children(b, n)
		b.WriteString("\n")
	case *ast.Blockquote:
		b.WriteString("<blockquote>")
		var inner strings.Builder
		r.children(&inner, n)
		b.WriteString(strings.TrimSpace(inner.String()))
		b.WriteString("</blockquote>\n\n")
	case *ast.FencedCodeBlock:
		r.codeBlock(b, n)
	case *ast.CodeBlock:
		r.codeBlock(b, n)
	case *ast.List:
		r.list(b, n)
	case *ast.ThematicBreak:
		b.WriteString("\n")
	case *ast.HTMLBlock:
		b.WriteString(html.EscapeString(string(r.lines(n))))
		b.WriteString("\n")
	case *ast.Text:
		b.WriteString(html.EscapeString(string(n.Segment.Value(r.src))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.WriteString(html.EscapeString(string(n.Value)))
	case *ast.Emphasis:
		tag := "i"
		if n.Level >= 2 {
			tag = "b"
		}
		b.WriteString("<" + tag + ">")
		r.children(b, n)
		b.WriteString("</" + tag + ">")
	case *east.Strikethrough:
		b.WriteString("<s>")
		r.children(b, n)
		b.WriteString("</s>")
	case *ast.CodeSpan:
		b.WriteString("<code>")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.WriteString(html.EscapeString(string(t.Segment.Value(r.src))))
			}
		}
		b.WriteString("</code>")
	case *ast.Link:
		fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(string(n.Destination)))
		r.children(b, n)
		b.WriteString("</a>")
	case *ast.AutoLink:
		url := html.EscapeString(string(n.URL(r.src)))
		fmt.Fprintf(b, `<a href="%s">%s</a>`, url, url)
	case *ast.Image:
		// No inline images in chat text, fall back to a link.
		fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(string(n.Destination)))
		r.children(b, n)
		b.WriteString("</a>")
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.WriteString(html.EscapeString(string(seg.Value(r.src))))
		}
	default:
		r.children(b, n)
	}
}

func (r *renderer) codeBlock(b *strings.Builder, n ast.Node) {
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(string(r.lines(n))))
	b.WriteString("</pre>\n\n")
}

func (r *renderer) lines(n ast.Node) []byte {
	var out []byte
	l := n.Lines()
	for i := 0; i < l.Len(); i++ {
		seg := l.At(i)
		out = append(out, seg.Value(r.src)...)
	}
	return out
}

func (r *renderer) list(b *strings.Builder, n *ast.List) {
	r.depth++
	indent := strings.Repeat("  ", r.depth-1)
	num := n.Start
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if n.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		var inner strings.Builder
		r.children(&inner, item)
		body := strings.TrimRight(inner.String(), "\n")
		b.WriteString(indent + marker + strings.ReplaceAll(body, "\n", "\n"+indent+"  "))
		b.WriteString("\n")
	}
	r.depth--
	if r.depth == 0 {
		b.WriteString("\n")
	}
}
