package epub

import (
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

func hasImageExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// findCover resolves the book's cover image. A sibling cover file next
// to the EPUB wins over anything declared inside the archive.
func findCover(c *container, epubPath string) []byte {
	dir := filepath.Dir(epubPath)
	for _, name := range []string{"cover.jpg", "cover.jpeg", "cover.png"} {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data
		}
	}

	// OPF <meta name="cover" content="id">.
	if c.coverID != "" {
		if item, ok := c.manifest[c.coverID]; ok {
			if data, err := c.readFile(item.Href); err == nil {
				return data
			}
		}
	}

	// An image whose name mentions "cover".
	for _, item := range c.items {
		if strings.Contains(strings.ToLower(item.Href), "cover") && hasImageExtension(item.Href) {
			if data, err := c.readFile(item.Href); err == nil {
				return data
			}
		}
	}

	// Any image at all.
	for _, item := range c.items {
		if strings.HasPrefix(item.MediaType, "image/") {
			if data, err := c.readFile(item.Href); err == nil {
				return data
			}
		}
	}
	return nil
}
