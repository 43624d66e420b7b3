// Package output lays finished audiobooks out in the library directory
// structure alongside their cover and sidecar files.
package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	"golang.org/x/net/html"
)

// coverMaxDim bounds the written cover thumbnail.
const coverMaxDim = 800

// BookMeta identifies where a finished book lands in the output tree.
type BookMeta struct {
	Title       string
	Author      string
	Series      string
	Description string
}

// Writer moves finished M4Bs into the audiobook library layout
// {root}/{author}/[series/]{title}/.
type Writer struct {
	root   string
	logger *slog.Logger
}

// NewWriter creates a writer rooted at the audiobook output directory.
func NewWriter(root string, logger *slog.Logger) *Writer {
	return &Writer{root: root, logger: logger.With("component", "output")}
}

// bookDir computes the destination directory for a book.
func (w *Writer) bookDir(meta BookMeta) string {
	author := SanitizeFilename(meta.Author)
	title := SanitizeFilename(meta.Title)
	if meta.Series != "" {
		return filepath.Join(w.root, author, SanitizeFilename(meta.Series), title)
	}
	return filepath.Join(w.root, author, title)
}

// AlreadyExists reports whether the destination M4B is already present.
func (w *Writer) AlreadyExists(meta BookMeta) bool {
	title := SanitizeFilename(meta.Title)
	_, err := os.Stat(filepath.Join(w.bookDir(meta), title+".m4b"))
	return err == nil
}

// Write moves the built M4B into place and writes the cover thumbnail,
// description, and narration credit sidecars. It returns the book
// directory.
func (w *Writer) Write(m4bPath string, meta BookMeta, cover []byte, voice string) (string, error) {
	dir := w.bookDir(meta)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	title := SanitizeFilename(meta.Title)
	dest := filepath.Join(dir, title+".m4b")
	if err := moveFile(m4bPath, dest); err != nil {
		return "", fmt.Errorf("failed to move m4b into place: %w", err)
	}

	if len(cover) > 0 {
		if err := writeCoverThumbnail(cover, filepath.Join(dir, "cover.jpg")); err != nil {
			w.logger.Warn("failed to write cover", "error", err)
		}
	}

	if meta.Description != "" {
		desc := htmlToPlainText(meta.Description)
		if desc != "" {
			if err := os.WriteFile(filepath.Join(dir, "desc.txt"), []byte(desc), 0o644); err != nil {
				return "", fmt.Errorf("failed to write description: %w", err)
			}
		}
	}

	credit := fmt.Sprintf("AI Narration (%s)", voice)
	if err := os.WriteFile(filepath.Join(dir, "reader.txt"), []byte(credit), 0o644); err != nil {
		return "", fmt.Errorf("failed to write narration credit: %w", err)
	}

	w.logger.Info("output written", "dir", dir)
	return dir, nil
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// writeCoverThumbnail re-encodes the cover as a JPEG bounded to
// 800x800, preserving aspect ratio.
func writeCoverThumbnail(data []byte, path string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode cover: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > coverMaxDim || height > coverMaxDim {
		scale := float64(coverMaxDim) / float64(width)
		if height > width {
			scale = float64(coverMaxDim) / float64(height)
		}
		dstW := int(float64(width) * scale)
		dstH := int(float64(height) * scale)
		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// htmlToPlainText strips markup from a metadata description.
func htmlToPlainText(htmlText string) string {
	root, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return strings.TrimSpace(htmlText)
	}

	var parts []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
