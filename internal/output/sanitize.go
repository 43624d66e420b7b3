package output

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// SanitizeFilename replaces filesystem-hostile characters with
// underscores and trims surrounding whitespace.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(unsafeFilenameChars.ReplaceAllString(name, "_"))
}
