// Package library reads ebook metadata from a Calibre library or a
// plain folder of EPUB files.
package library

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// Book is a single library entry with an EPUB or KEPUB format available.
type Book struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	Series         *string  `json:"series,omitempty"`
	SeriesIndex    *float64 `json:"series_index,omitempty"`
	Path           string   `json:"path"`
	FormatName     string   `json:"format"`
	FormatFilename string   `json:"-"`
	HasCover       bool     `json:"has_cover"`
	Description    string   `json:"description,omitempty"`
}

// IsKepub reports whether the book's source file carries Kobo markup.
func (b Book) IsKepub() bool {
	return b.FormatName == "KEPUB"
}

// ErrBookNotFound indicates the requested book id is not in the library.
var ErrBookNotFound = errors.New("book not found")

// Reader lists and resolves books from a library backend.
type Reader interface {
	// ListBooks returns every book with a usable EPUB format.
	ListBooks() ([]Book, error)

	// Search returns books whose title or author matches the query.
	Search(query string) ([]Book, error)

	// GetBook fetches a single book by id.
	GetBook(id int64) (Book, error)

	// SourcePath returns the absolute path of the book's EPUB file.
	SourcePath(book Book) (string, error)

	// CoverPath returns the path of the book's cover image, or "" if none.
	CoverPath(book Book) string
}

// NewReader selects the backend for the library at path. A Calibre
// metadata.db picks the Calibre reader, otherwise the folder scanner.
func NewReader(path string, logger *slog.Logger) Reader {
	dbPath := filepath.Join(path, "metadata.db")
	if _, err := os.Stat(dbPath); err == nil {
		logger.Info("calibre library detected", "path", path)
		return NewCalibreReader(path, logger)
	}
	logger.Info("no metadata.db found, scanning folder for EPUBs", "path", path)
	return NewFolderReader(path, logger)
}
