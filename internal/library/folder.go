package library

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FolderReader scans a plain directory tree for EPUB files. Book ids are
// assigned by sorted path order and are stable for a given tree.
type FolderReader struct {
	libraryPath string
	logger      *slog.Logger

	mu    sync.Mutex
	books []Book
}

// NewFolderReader creates a reader scanning the directory at path.
func NewFolderReader(path string, logger *slog.Logger) *FolderReader {
	return &FolderReader{
		libraryPath: path,
		logger:      logger.With("component", "folder"),
	}
}

func isEpubName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".epub") || strings.HasSuffix(lower, ".kepub")
}

func isKepubName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".kepub.epub") || strings.HasSuffix(lower, ".kepub")
}

func (r *FolderReader) scan() ([]Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.books != nil {
		return r.books, nil
	}

	if _, err := os.Stat(r.libraryPath); err != nil {
		r.logger.Warn("library path does not exist", "path", r.libraryPath)
		r.books = []Book{}
		return r.books, nil
	}

	var paths []string
	err := filepath.WalkDir(r.libraryPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isEpubName(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan library folder: %w", err)
	}
	sort.Strings(paths)

	books := make([]Book, 0, len(paths))
	for i, p := range paths {
		name := filepath.Base(p)
		lower := strings.ToLower(name)

		format := "EPUB"
		stem := name
		switch {
		case strings.HasSuffix(lower, ".kepub.epub"):
			format = "KEPUB"
			stem = name[:len(name)-len(".kepub.epub")]
		case strings.HasSuffix(lower, ".kepub"):
			format = "KEPUB"
			stem = name[:len(name)-len(".kepub")]
		case strings.HasSuffix(lower, ".epub"):
			stem = name[:len(name)-len(".epub")]
		}
		title := stem

		rel, err := filepath.Rel(r.libraryPath, filepath.Dir(p))
		if err != nil {
			return nil, fmt.Errorf("failed to relativize %s: %w", p, err)
		}
		author := "Unknown Author"
		if rel != "." {
			parts := strings.Split(filepath.ToSlash(rel), "/")
			author = parts[0]
		}

		coverPath := filepath.Join(filepath.Dir(p), "cover.jpg")
		_, coverErr := os.Stat(coverPath)

		dir := rel
		if dir == "." {
			dir = ""
		}
		books = append(books, Book{
			ID:             int64(i + 1),
			Title:          title,
			Author:         author,
			Path:           dir,
			FormatName:     format,
			FormatFilename: stem,
			HasCover:       coverErr == nil,
		})
	}

	r.logger.Info("scanned epub files", "count", len(books), "path", r.libraryPath)
	r.books = books
	return r.books, nil
}

// ListBooks returns every EPUB found under the library root.
func (r *FolderReader) ListBooks() ([]Book, error) {
	return r.scan()
}

// Search returns books whose title or author contains the query.
func (r *FolderReader) Search(query string) ([]Book, error) {
	books, err := r.scan()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []Book
	for _, b := range books {
		if strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q) {
			out = append(out, b)
		}
	}
	return out, nil
}

// GetBook fetches a book by its scan-order id.
func (r *FolderReader) GetBook(id int64) (Book, error) {
	books, err := r.scan()
	if err != nil {
		return Book{}, err
	}
	for _, b := range books {
		if b.ID == id {
			return b, nil
		}
	}
	return Book{}, fmt.Errorf("book %d: %w", id, ErrBookNotFound)
}

// SourcePath resolves the absolute path of the book's EPUB file.
func (r *FolderReader) SourcePath(book Book) (string, error) {
	ext := strings.ToLower(book.FormatName)
	if ext == "kepub" {
		ext = "kepub.epub"
	}
	path := filepath.Join(r.libraryPath, book.Path, book.FormatFilename+"."+ext)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	// The scan keeps the original filename in FormatFilename; a bare
	// .kepub file has no .epub suffix to re-add.
	alt := filepath.Join(r.libraryPath, book.Path, book.FormatFilename+".kepub")
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", fmt.Errorf("epub file not found: %s", path)
}

// CoverPath returns a sibling cover.jpg path, or "".
func (r *FolderReader) CoverPath(book Book) string {
	if !book.HasCover {
		return ""
	}
	path := filepath.Join(r.libraryPath, book.Path, "cover.jpg")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
