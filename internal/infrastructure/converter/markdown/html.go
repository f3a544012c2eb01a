// Package markdown renders HTML and tabular data as GitHub-flavoured Markdown.
package markdown

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromHTML converts an HTML document or fragment to Markdown. Scripts,
// styles and the document head are dropped. Links and images are kept.
func FromHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return joinBlocks(blocks(doc)), nil
}

func FromHTMLString(s string) (string, error) {
	return FromHTML(strings.NewReader(s))
}

var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Button:   true,
	atom.Select:   true,
}

var blockLevel = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Main: true,
	atom.Div: true, atom.P: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Hr: true,
	atom.Figure: true, atom.Figcaption: true, atom.Form: true, atom.Fieldset: true,
	atom.Address: true, atom.Details: true, atom.Summary: true,
}

func isBlock(n *html.Node) bool {
	return n.Type == html.ElementNode && blockLevel[n.DataAtom]
}

// blocks renders the children of n as a list of Markdown blocks. Runs of
// inline content between block children become paragraphs.
func blocks(n *html.Node) []string {
	var out []string
	var run strings.Builder
	flush := func() {
		if p := paragraph(run.String()); p != "" {
			out = append(out, p)
		}
		run.Reset()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && skipped[c.DataAtom] {
			continue
		}
		if isBlock(c) {
			flush()
			out = append(out, block(c)...)
			continue
		}
		run.WriteString(inline(c))
	}
	flush()
	return out
}

func block(n *html.Node) []string {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		text := paragraph(inlineChildren(n))
		if text == "" {
			return nil
		}
		return []string{strings.Repeat("#", level) + " " + strings.ReplaceAll(text, "\n", " ")}
	case atom.Pre:
		return []string{fence(codeLanguage(n), strings.TrimRight(rawText(n), "\n"))}
	case atom.Blockquote:
		inner := joinBlocks(blocks(n))
		if inner == "" {
			return nil
		}
		return []string{prefixLines(strings.TrimRight(inner, "\n"), "> ")}
	case atom.Ul:
		return nonEmpty(list(n, false))
	case atom.Ol:
		return nonEmpty(list(n, true))
	case atom.Li:
		return nonEmpty(item("- ", n))
	case atom.Table:
		return nonEmpty(table(n))
	case atom.Hr:
		return []string{"---"}
	case atom.Dt:
		text := paragraph(inlineChildren(n))
		if text == "" {
			return nil
		}
		return []string{"**" + text + "**"}
	case atom.Dd:
		inner := strings.TrimRight(joinBlocks(blocks(n)), "\n")
		if inner == "" {
			return nil
		}
		return []string{prefixLines(inner, ": ")}
	default:
		return blocks(n)
	}
}

func list(n *html.Node, ordered bool) string {
	index := 1
	if ordered {
		if start, err := strconv.Atoi(attr(n, "start")); err == nil {
			index = start
		}
	}

	var items []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Li:
			marker := "- "
			if ordered {
				marker = strconv.Itoa(index) + ". "
				index++
			}
			items = append(items, item(marker, c))
		case atom.Ul, atom.Ol:
			// A list nested directly in a list belongs to the previous item.
			nested := list(c, c.DataAtom == atom.Ol)
			if nested == "" {
				continue
			}
			if len(items) == 0 {
				items = append(items, nested)
				continue
			}
			items[len(items)-1] += "\n" + indent(nested, "  ")
		}
	}
	return strings.Join(items, "\n")
}

func item(marker string, li *html.Node) string {
	body := strings.Join(blocks(li), "\n")
	pad := strings.Repeat(" ", len(marker))
	return marker + indentTail(body, pad)
}

func table(n *html.Node) string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				// Nested tables are flattened into the cell text by inline().
			case atom.Tr:
				var row []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.DataAtom == atom.Td || cell.DataAtom == atom.Th) {
						row = append(row, paragraph(inlineChildren(cell)))
					}
				}
				rows = append(rows, row)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return Table(rows)
}

func inlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(inline(c))
	}
	return b.String()
}

func inline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return collapseSpace(n.Data)
	case html.ElementNode:
	default:
		return ""
	}
	if skipped[n.DataAtom] {
		return ""
	}

	switch n.DataAtom {
	case atom.Br:
		return "  \n"
	case atom.Strong, atom.B:
		return wrap(inlineChildren(n), "**")
	case atom.Em, atom.I:
		return wrap(inlineChildren(n), "*")
	case atom.Del, atom.S, atom.Strike:
		return wrap(inlineChildren(n), "~~")
	case atom.Code, atom.Kbd, atom.Samp, atom.Tt:
		text := rawText(n)
		if strings.TrimSpace(text) == "" {
			return text
		}
		tick := "`"
		if strings.Contains(text, "`") {
			tick = "``"
		}
		return tick + text + tick
	case atom.A:
		text := strings.TrimSpace(inlineChildren(n))
		href := strings.TrimSpace(attr(n, "href"))
		switch {
		case href == "" || strings.HasPrefix(href, "javascript:"):
			return text
		case text == "":
			return ""
		case text == href:
			return "<" + href + ">"
		default:
			return "[" + text + "](" + escapeURL(href) + ")"
		}
	case atom.Img:
		src := strings.TrimSpace(attr(n, "src"))
		if src == "" {
			return ""
		}
		return "![" + collapseSpace(attr(n, "alt")) + "](" + escapeURL(src) + ")"
	case atom.Input:
		if attr(n, "type") == "checkbox" {
			if hasAttr(n, "checked") {
				return "[x] "
			}
			return "[ ] "
		}
		return ""
	default:
		return inlineChildren(n)
	}
}

// wrap places delim around the non-space part of s so "** bold**" never appears.
func wrap(s, delim string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	lead := s[:strings.Index(s, trimmed)]
	tail := s[len(lead)+len(trimmed):]
	return lead + delim + trimmed + delim + tail
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch {
		case node.Type == html.TextNode:
			b.WriteString(node.Data)
		case node.Type == html.ElementNode && node.DataAtom == atom.Br:
			b.WriteByte('\n')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return b.String()
}

func codeLanguage(pre *html.Node) string {
	for _, n := range []*html.Node{pre, pre.FirstChild} {
		if n == nil || n.Type != html.ElementNode {
			continue
		}
		for _, class := range strings.Fields(attr(n, "class")) {
			if lang, ok := strings.CutPrefix(class, "language-"); ok {
				return lang
			}
		}
	}
	return ""
}

func fence(lang, body string) string {
	marker := "```"
	for strings.Contains(body, marker) {
		marker += "`"
	}
	return marker + lang + "\n" + body + "\n" + marker
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func escapeURL(u string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(u)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// paragraph tidies an inline run: leading spaces on each line go, hard
// breaks stay.
func paragraph(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func prefixLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	bare := strings.TrimRight(prefix, " ")
	for i, line := range lines {
		if line == "" {
			lines[i] = bare
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func indent(s, pad string) string {
	return pad + indentTail(s, pad)
}

func indentTail(s, pad string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = pad + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func nonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []string{s}
}

func joinBlocks(parts []string) string {
	out := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if out == "" {
		return ""
	}
	return out + "\n"
}
