package epub

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var chapterHeadingPattern = regexp.MustCompile(
	`(?m)^(Chapter\s+\d+|CHAPTER\s+\d+|Part\s+\w+|PART\s+\w+)`,
)

// rawChapter is a detected chapter before filtering.
type rawChapter struct {
	Title string
	Text  string
}

// spineDoc is a parsed spine document.
type spineDoc struct {
	href string
	root *html.Node
}

// loadSpine parses every XHTML spine document once.
func (c *container) loadSpine() []spineDoc {
	var docs []spineDoc
	for _, item := range c.spineDocuments() {
		data, err := c.readFile(item.Href)
		if err != nil {
			continue
		}
		root, err := parseHTML(data)
		if err != nil {
			continue
		}
		docs = append(docs, spineDoc{href: item.Href, root: root})
	}
	return docs
}

// detectChaptersTOC maps table-of-contents entries onto spine content.
// Entries pointing at whole files take the file's text; entries pointing
// at fragments split the file at their anchor elements.
func detectChaptersTOC(toc []tocEntry, docs []spineDoc) []rawChapter {
	if len(toc) == 0 {
		return nil
	}

	docByHref := make(map[string]*spineDoc)
	for i := range docs {
		docByHref[docs[i].href] = &docs[i]
		docByHref[path.Base(docs[i].href)] = &docs[i]
	}

	type fileEntry struct {
		index    int
		title    string
		fragment string
	}
	byFile := make(map[string][]fileEntry)
	var fileOrder []string
	for i, e := range toc {
		if _, ok := byFile[e.Href]; !ok {
			fileOrder = append(fileOrder, e.Href)
		}
		byFile[e.Href] = append(byFile[e.Href], fileEntry{i, e.Title, e.Fragment})
	}

	chapters := make([]*rawChapter, len(toc))
	for _, href := range fileOrder {
		entries := byFile[href]
		doc, ok := docByHref[href]
		if !ok {
			doc, ok = docByHref[path.Base(href)]
		}
		if !ok {
			continue
		}

		hasFragments := false
		for _, e := range entries {
			if e.fragment != "" {
				hasFragments = true
				break
			}
		}

		if !hasFragments || len(entries) == 1 {
			text := documentText(doc.root)
			if text != "" {
				for _, e := range entries {
					chapters[e.index] = &rawChapter{Title: e.title, Text: text}
				}
			}
			continue
		}

		// Split the file at the anchor elements in document order.
		anchors := make(map[*html.Node]int)
		whole := make([]int, 0)
		for pos, e := range entries {
			if e.fragment == "" {
				whole = append(whole, pos)
				continue
			}
			if el := findByID(doc.root, e.fragment); el != nil {
				anchors[el] = pos
			} else {
				whole = append(whole, pos)
			}
		}

		parts := make([][]string, len(entries))
		current := -1
		walk(doc.root, func(n *html.Node) bool {
			if idx, ok := anchors[n]; ok {
				current = idx
			}
			if isElement(n, atom.Script, atom.Style) {
				return false
			}
			if n.Type == html.TextNode && current >= 0 {
				if t := strings.TrimSpace(n.Data); t != "" {
					parts[current] = append(parts[current], t)
				}
			}
			return true
		})

		for pos, e := range entries {
			text := normalizeText(strings.Join(parts[pos], "\n"))
			if text != "" {
				chapters[e.index] = &rawChapter{Title: e.title, Text: text}
			}
		}
		fullText := ""
		for _, pos := range whole {
			if fullText == "" {
				fullText = documentText(doc.root)
			}
			if fullText != "" {
				chapters[entries[pos].index] = &rawChapter{Title: entries[pos].title, Text: fullText}
			}
		}
	}

	var out []rawChapter
	for _, ch := range chapters {
		if ch != nil {
			out = append(out, *ch)
		}
	}
	return out
}

// detectChaptersHeadings splits each spine document at its h1/h2
// elements. Documents with no headings become numbered sections.
func detectChaptersHeadings(docs []spineDoc) []rawChapter {
	var chapters []rawChapter
	for _, doc := range docs {
		var headings []*html.Node
		walk(doc.root, func(n *html.Node) bool {
			if isElement(n, atom.H1, atom.H2) {
				headings = append(headings, n)
				return false
			}
			return true
		})

		if len(headings) == 0 {
			text := documentText(doc.root)
			if text != "" {
				chapters = append(chapters, rawChapter{
					Title: "Section " + strconv.Itoa(len(chapters)+1),
					Text:  text,
				})
			}
			continue
		}

		index := make(map[*html.Node]int, len(headings))
		for i, h := range headings {
			index[h] = i
		}
		parts := make([][]string, len(headings))
		current := -1
		walk(doc.root, func(n *html.Node) bool {
			if i, ok := index[n]; ok {
				current = i
				// The heading's own text is the title, not content.
				return false
			}
			if isElement(n, atom.Script, atom.Style) {
				return false
			}
			if n.Type == html.TextNode && current >= 0 {
				if t := strings.TrimSpace(n.Data); t != "" {
					parts[current] = append(parts[current], t)
				}
			}
			return true
		})

		for i, h := range headings {
			title := strings.Join(strings.Fields(textContent(h)), " ")
			if title == "" {
				continue
			}
			chapters = append(chapters, rawChapter{
				Title: title,
				Text:  normalizeText(strings.Join(parts[i], "\n")),
			})
		}
	}
	return chapters
}

// detectChaptersRegex scans the whole book text for chapter heading
// lines such as "Chapter 7" or "PART TWO".
func detectChaptersRegex(docs []spineDoc) []rawChapter {
	fullText := joinedText(docs)
	matches := chapterHeadingPattern.FindAllStringIndex(fullText, -1)
	if len(matches) == 0 {
		return nil
	}

	var chapters []rawChapter
	for i, m := range matches {
		title := strings.TrimSpace(fullText[m[0]:m[1]])
		end := len(fullText)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := strings.TrimSpace(fullText[m[0]:end])
		// Drop the heading line itself.
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
		chapters = append(chapters, rawChapter{Title: title, Text: text})
	}
	return chapters
}

// detectChaptersFixed slices the book into parts of roughly
// fallbackWords words, breaking at paragraph boundaries.
func detectChaptersFixed(docs []spineDoc, fallbackWords int) []rawChapter {
	fullText := joinedText(docs)
	if len(strings.Fields(fullText)) == 0 {
		return nil
	}

	var (
		chapters  []rawChapter
		current   []string
		wordCount int
	)
	flush := func() {
		if len(current) > 0 {
			chapters = append(chapters, rawChapter{
				Title: "Part " + strconv.Itoa(len(chapters)+1),
				Text:  strings.Join(current, "\n\n"),
			})
			current = nil
			wordCount = 0
		}
	}
	for _, para := range strings.Split(fullText, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len(strings.Fields(para))
		if wordCount+n > fallbackWords {
			flush()
		}
		current = append(current, para)
		wordCount += n
	}
	flush()
	return chapters
}

func joinedText(docs []spineDoc) string {
	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(documentText(doc.root))
		sb.WriteString("\n\n")
	}
	return sb.String()
}
