package m4b

import (
	"fmt"
	"strings"
)

// Metadata is the book-level tag set written into the M4B.
type Metadata struct {
	Title       string
	Author      string
	Date        string
	Description string
}

// ChapterMark is one chapter entry with its transcoded duration.
type ChapterMark struct {
	Title      string
	DurationMS int64
}

// escapeMetadata escapes the characters the ffmetadata format treats
// specially.
func escapeMetadata(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\n", `\`+"\n",
	)
	return r.Replace(s)
}

// renderMetadata produces an ffmetadata file with book tags and
// millisecond-timebase chapter marks at accumulated offsets.
func renderMetadata(meta Metadata, chapters []ChapterMark) string {
	var sb strings.Builder
	sb.WriteString(";FFMETADATA1\n")
	fmt.Fprintf(&sb, "title=%s\n", escapeMetadata(meta.Title))
	fmt.Fprintf(&sb, "artist=%s\n", escapeMetadata(meta.Author))
	fmt.Fprintf(&sb, "album=%s\n", escapeMetadata(meta.Title))
	sb.WriteString("genre=Audiobook\n")
	if meta.Date != "" {
		fmt.Fprintf(&sb, "date=%s\n", escapeMetadata(meta.Date))
	}
	sb.WriteString("\n")

	var offset int64
	for _, ch := range chapters {
		end := offset + ch.DurationMS
		sb.WriteString("[CHAPTER]\n")
		sb.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&sb, "START=%d\n", offset)
		fmt.Fprintf(&sb, "END=%d\n", end)
		fmt.Fprintf(&sb, "title=%s\n", escapeMetadata(ch.Title))
		sb.WriteString("\n")
		offset = end
	}
	return sb.String()
}
