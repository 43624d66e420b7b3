// Package epub extracts narration-ready chapters, metadata, and cover
// art from EPUB and KEPUB files.
package epub

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// MinChapterWords is the minimum body length for a chapter to be kept.
const MinChapterWords = 50

// FallbackChapterWords sizes the fixed-split last-resort strategy.
const FallbackChapterWords = 5000

// ErrNoChapters indicates extraction found no usable chapter text.
var ErrNoChapters = errors.New("no chapters found with sufficient text")

// ExtractionError wraps any failure to extract a book.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Metadata is the book-level metadata from the OPF package document.
type Metadata struct {
	Title       string
	Author      string
	Language    string
	Publisher   string
	Date        string
	Description string
}

// Chapter is a single narration unit.
type Chapter struct {
	Title     string
	Text      string
	WordCount int
}

// Book is the complete extraction result.
type Book struct {
	Metadata Metadata
	Chapters []Chapter
	Cover    []byte
}

// Extract parses the EPUB at path and returns its chapters. Chapter
// detection tries the table of contents first, then heading structure,
// then chapter-heading lines in the text, then fixed-size splitting.
func Extract(path string, logger *slog.Logger) (*Book, error) {
	logger = logger.With("component", "epub")

	c, err := openContainer(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer c.Close()

	meta := c.metadata
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if meta.Author == "" {
		meta.Author = "Unknown Author"
	}
	if meta.Language == "" {
		meta.Language = "en"
	}

	cover := findCover(c, path)
	docs := c.loadSpine()

	chapters := detectChaptersTOC(c.toc, docs)
	if len(chapters) == 0 {
		chapters = detectChaptersHeadings(docs)
	}
	if len(chapters) == 0 {
		chapters = detectChaptersRegex(docs)
	}
	if len(chapters) == 0 {
		chapters = detectChaptersFixed(docs, FallbackChapterWords)
	}

	var filtered []Chapter
	for _, ch := range chapters {
		text := stripTitleFromText(ch.Title, ch.Text)
		wordCount := len(strings.Fields(text))
		if wordCount < MinChapterWords {
			continue
		}
		if isSkippable(ch.Title, text) {
			logger.Info("skipping chapter", "title", ch.Title)
			continue
		}
		filtered = append(filtered, Chapter{Title: ch.Title, Text: text, WordCount: wordCount})
	}

	if len(filtered) == 0 {
		return nil, &ExtractionError{Path: path, Err: ErrNoChapters}
	}

	logger.Info("extracted chapters", "count", len(filtered), "title", meta.Title)
	for i, ch := range filtered {
		logger.Debug("chapter", "index", i+1, "title", ch.Title, "words", ch.WordCount)
	}

	return &Book{Metadata: meta, Chapters: filtered, Cover: cover}, nil
}
