package scrape

import (
	"strings"

	"golang.org/x/net/html"
)

// Elements whose text is boilerplate, not content.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// Block-level elements that imply a line break between text runs.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
}

// ExtractHTML parses an HTML document and returns (title, visible text).
// Script, style, and navigation chrome are dropped; block boundaries become
// newlines; whitespace is collapsed.
func ExtractHTML(body string) (string, string) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", ""
	}

	var title string
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}
			if n.Data == "title" && title == "" {
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
			if blockElements[n.Data] {
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	return title, collapseWhitespace(sb.String())
}

// collapseWhitespace trims lines and drops runs of blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
