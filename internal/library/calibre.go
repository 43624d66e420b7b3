package library

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// bookQuery joins the Calibre tables into one row per book that has an
// EPUB or KEPUB format attached.
const bookQuery = `
SELECT
    b.id,
    b.title,
    b.path,
    b.has_cover,
    GROUP_CONCAT(DISTINCT a.name) AS author,
    s.name AS series,
    bsl.series_index,
    d.format AS format_name,
    d.name AS format_filename,
    c.text AS description
FROM books b
LEFT JOIN books_authors_link bal ON b.id = bal.book
LEFT JOIN authors a ON bal.author = a.id
LEFT JOIN books_series_link bsl ON b.id = bsl.book
LEFT JOIN series s ON bsl.series = s.id
LEFT JOIN data d ON b.id = d.book AND d.format IN ('EPUB', 'KEPUB')
LEFT JOIN comments c ON b.id = c.book
WHERE d.format IS NOT NULL
GROUP BY b.id
`

// CalibreReader reads book metadata from a Calibre metadata.db.
// The database is opened read-only per query; Calibre itself may be
// writing to it concurrently.
type CalibreReader struct {
	libraryPath string
	logger      *slog.Logger
}

// NewCalibreReader creates a reader for the Calibre library at path.
func NewCalibreReader(path string, logger *slog.Logger) *CalibreReader {
	return &CalibreReader{
		libraryPath: path,
		logger:      logger.With("component", "calibre"),
	}
}

func (r *CalibreReader) connect() (*sql.DB, error) {
	dbPath := filepath.Join(r.libraryPath, "metadata.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("calibre metadata.db not found at %s: %w", dbPath, err)
	}
	dsn := "file:" + url.PathEscape(dbPath) + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibre database: %w", err)
	}
	return db, nil
}

// ListBooks returns every book with an EPUB format, ordered by title.
func (r *CalibreReader) ListBooks() ([]Book, error) {
	db, err := r.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(bookQuery + " ORDER BY b.title")
	if err != nil {
		return nil, fmt.Errorf("failed to query calibre books: %w", err)
	}
	defer rows.Close()
	return collectBooks(rows)
}

// Search returns books whose title or author contains the query.
func (r *CalibreReader) Search(query string) ([]Book, error) {
	db, err := r.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	like := "%" + query + "%"
	rows, err := db.Query(
		bookQuery+" HAVING b.title LIKE ? OR author LIKE ? ORDER BY b.title",
		like, like,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search calibre books: %w", err)
	}
	defer rows.Close()
	return collectBooks(rows)
}

// GetBook fetches one book by Calibre id.
func (r *CalibreReader) GetBook(id int64) (Book, error) {
	db, err := r.connect()
	if err != nil {
		return Book{}, err
	}
	defer db.Close()

	row := db.QueryRow(bookQuery+" HAVING b.id = ?", id)
	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return Book{}, fmt.Errorf("book %d: %w", id, ErrBookNotFound)
	}
	if err != nil {
		return Book{}, fmt.Errorf("failed to fetch book %d: %w", id, err)
	}
	return book, nil
}

// SourcePath resolves the absolute path of the book's EPUB file.
func (r *CalibreReader) SourcePath(book Book) (string, error) {
	ext := strings.ToLower(book.FormatName)
	if ext == "kepub" {
		ext = "kepub.epub"
	}
	path := filepath.Join(r.libraryPath, book.Path, book.FormatFilename+"."+ext)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("epub file not found: %s: %w", path, err)
	}
	return path, nil
}

// CoverPath returns the Calibre-managed cover.jpg path, or "".
func (r *CalibreReader) CoverPath(book Book) string {
	if !book.HasCover {
		return ""
	}
	path := filepath.Join(r.libraryPath, book.Path, "cover.jpg")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (Book, error) {
	var (
		b           Book
		author      sql.NullString
		series      sql.NullString
		seriesIndex sql.NullFloat64
		description sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Title, &b.Path, &b.HasCover, &author,
		&series, &seriesIndex, &b.FormatName, &b.FormatFilename, &description,
	)
	if err != nil {
		return Book{}, err
	}

	b.Author = "Unknown Author"
	if author.Valid && author.String != "" {
		b.Author = author.String
	}
	if series.Valid {
		b.Series = &series.String
	}
	if seriesIndex.Valid {
		b.SeriesIndex = &seriesIndex.Float64
	}
	b.Description = description.String
	return b, nil
}

func collectBooks(rows *sql.Rows) ([]Book, error) {
	var books []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}
