package epub

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	collapseBlankLines = regexp.MustCompile(`\n{3,}`)
	joinBrokenLetter   = regexp.MustCompile(`(?m)^([A-Z])\n([a-z])`)
)

// parseHTML parses an XHTML document leniently.
func parseHTML(data []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(data))
}

// walk visits nodes in document order. Returning false stops descent
// into the node's children, not the whole walk.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isElement(n *html.Node, names ...atom.Atom) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range names {
		if n.DataAtom == a {
			return true
		}
	}
	return false
}

// collectText gathers the document's text nodes in order, one entry per
// node, skipping script and style bodies. Wrapping elements such as Kobo
// sentence spans or styled drop caps contribute nothing of their own, so
// their text falls through as if the wrapper were removed.
func collectText(n *html.Node, parts *[]string) {
	walk(n, func(node *html.Node) bool {
		if isElement(node, atom.Script, atom.Style) {
			return false
		}
		if node.Type == html.TextNode {
			if t := strings.TrimSpace(node.Data); t != "" {
				*parts = append(*parts, t)
			}
		}
		return true
	})
}

// textContent renders a subtree as plain text, one line per text node.
func textContent(n *html.Node) string {
	var parts []string
	collectText(n, &parts)
	return strings.Join(parts, "\n")
}

// normalizeText collapses runs of blank lines and rejoins single capital
// letters split onto their own line by drop-cap markup.
func normalizeText(text string) string {
	text = collapseBlankLines.ReplaceAllString(text, "\n\n")
	text = joinBrokenLetter.ReplaceAllString(text, "${1}${2}")
	return strings.TrimSpace(text)
}

// documentText renders a full document body as normalized plain text.
func documentText(root *html.Node) string {
	return normalizeText(textContent(root))
}

// findByID locates the element with the given id attribute.
func findByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && attrVal(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// parseNavDoc extracts TOC entries from an EPUB 3 navigation document.
// The nav element tagged epub:type="toc" wins; otherwise the first nav.
func (c *container) parseNavDoc(item manifestItem) []tocEntry {
	data, err := c.readFile(item.Href)
	if err != nil {
		return nil
	}
	root, err := parseHTML(data)
	if err != nil {
		return nil
	}

	var tocNav, firstNav *html.Node
	walk(root, func(n *html.Node) bool {
		if isElement(n, atom.Nav) {
			if firstNav == nil {
				firstNav = n
			}
			if strings.Contains(attrVal(n, "epub:type"), "toc") && tocNav == nil {
				tocNav = n
			}
		}
		return true
	})
	nav := tocNav
	if nav == nil {
		nav = firstNav
	}
	if nav == nil {
		return nil
	}

	dir := path.Dir(item.Href)
	if dir == "." {
		dir = ""
	}

	var entries []tocEntry
	walk(nav, func(n *html.Node) bool {
		if isElement(n, atom.A) {
			href := attrVal(n, "href")
			title := strings.TrimSpace(strings.Join(strings.Fields(textContent(n)), " "))
			file, frag := resolve(dir, href)
			if title != "" && file != "" {
				entries = append(entries, tocEntry{Title: title, Href: file, Fragment: frag})
			}
			return false
		}
		return true
	})
	return entries
}
