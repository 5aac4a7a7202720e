package mailbox

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type anchor struct {
	Href string
	Text string
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\r\v\x{00a0}]+`)
	blankLines = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// skipped elements contribute no text
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// block elements start on a new line
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Blockquote: true, atom.Hr: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
}

// htmlToText flattens an HTML document into readable text and returns the
// anchors it contained. Malformed markup is tolerated by the tokenizer.
func htmlToText(doc string) (string, []anchor) {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		b       strings.Builder
		anchors []anchor
		skip    int
		current *anchor
	)

	for {
		switch z.Next() {
		case html.ErrorToken:
			return cleanText(b.String()), anchors

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			b.WriteString(text)
			if current != nil {
				current.Text += text
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if skipped[a] {
				skip++
				continue
			}
			if blocks[a] {
				b.WriteString("\n")
			}
			if a == atom.A {
				current = &anchor{}
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						current.Href = strings.TrimSpace(string(val))
					}
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipped[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blocks[a] {
				b.WriteString("\n")
			}
			if a == atom.A && current != nil {
				current.Text = strings.TrimSpace(spaceRun.ReplaceAllString(current.Text, " "))
				anchors = append(anchors, *current)
				current = nil
			}
		}
	}
}

func cleanText(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
