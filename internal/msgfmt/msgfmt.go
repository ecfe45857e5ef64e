// Package msgfmt shapes model output for delivery as text messages.
// Models emit markdown and provider citation markup; chat bubbles want
// neither.
package msgfmt

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// BubbleSeparator splits one send_to_user message into multiple
// bubbles.
const BubbleSeparator = "||"

var (
	citeOpenRe  = regexp.MustCompile(`<cite[^>]*>`)
	citeCloseRe = regexp.MustCompile(`</cite>`)
)

// StripCitations removes <cite …>…</cite> wrapping, keeping the inner
// text.
func StripCitations(s string) string {
	s = citeOpenRe.ReplaceAllString(s, "")
	return citeCloseRe.ReplaceAllString(s, "")
}

// SplitBubbles splits a message on the bubble separator, trimming
// whitespace and dropping empty segments. A message without the
// separator yields a single bubble.
func SplitBubbles(s string) []string {
	var bubbles []string
	for _, part := range strings.Split(s, BubbleSeparator) {
		part = strings.TrimSpace(part)
		if part != "" {
			bubbles = append(bubbles, part)
		}
	}
	return bubbles
}

// Render prepares one model-produced message for the transport:
// citations are stripped and markdown is flattened to plain text.
func Render(s string) string {
	return RenderPlain(StripCitations(s))
}

// RenderPlain flattens markdown to plain text suitable for an SMS-style
// bubble: formatting marks are dropped, links become "text (url)",
// list items keep a leading dash. Input that fails to parse is
// returned unchanged.
func RenderPlain(markdown string) string {
	source := []byte(markdown)
	parser := goldmark.DefaultParser()
	root := parser.Parse(text.NewReader(source))

	var sb strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte('\n')
				}
			}
		case *ast.Link:
			if !entering {
				dest := string(node.Destination)
				if dest != "" {
					sb.WriteString(" (")
					sb.WriteString(dest)
					sb.WriteString(")")
				}
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.URL(source))
			}
		case *ast.CodeSpan:
			if entering {
				sb.Write(codeSpanText(node, source))
				return ast.WalkSkipChildren, nil
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				writeCodeBlockLines(&sb, n, source)
				return ast.WalkSkipChildren, nil
			}
		case *ast.ListItem:
			if entering {
				sb.WriteString("- ")
			} else {
				sb.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				sb.WriteByte('\n')
			}
		case *ast.ThematicBreak:
			if entering {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return markdown
	}

	return collapseBlankLines(strings.TrimSpace(sb.String()))
}

func codeSpanText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.Bytes()
}

func writeCodeBlockLines(sb *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
}

// collapseBlankLines reduces runs of blank lines to a single blank
// line so flattened block elements read naturally.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
