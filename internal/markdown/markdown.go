// Package markdown extracts the prose of a Markdown document so that code,
// markup and link targets are not sent to the classifier.
package markdown

import (
	"bytes"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// ToPlainText returns the text content of md with one line per paragraph,
// heading, or list item. Fenced and indented code, inline code and raw
// HTML are dropped.
func ToPlainText(md []byte) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse(md)

	var buf bytes.Buffer
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.CodeBlock, *ast.HTMLBlock, *ast.HTMLSpan, *ast.Code:
			return ast.SkipChildren
		case *ast.Text:
			if entering {
				buf.Write(n.Literal)
			}
		case *ast.Softbreak, *ast.Hardbreak:
			if entering {
				buf.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.TableCell:
			if !entering {
				endLine(&buf)
			}
		}
		return ast.GoToNext
	})

	return strings.TrimRight(buf.String(), "\n")
}

func endLine(buf *bytes.Buffer) {
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}
}
