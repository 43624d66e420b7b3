package epub

import (
	"regexp"
	"strings"
)

var skipTitlePattern = regexp.MustCompile(
	`(?i)^(copyright|legal|disclaimer|dedication|epigraph|` +
		`acknowledgm|table of contents|contents|title page|` +
		`about the (author|publisher)|also by|other books|` +
		`cover|frontispiece|half.?title|colophon|imprint|` +
		`praise|acclaim|blurb|reviews|` +
		`notes|endnotes|footnotes|index|bibliography|` +
		`references|glossary|further reading|sources)`,
)

var frontMatterPattern = regexp.MustCompile(
	`(?i)(all rights reserved|isbn[\s:\-]|` +
		`published by|library of congress|` +
		`cataloging.in.publication|` +
		`printed in (the )?(united states|u\.?s\.?|uk|` +
		`great britain|canada|australia)|` +
		`first (edition|printing|published)|` +
		`no part of this (book|publication)|` +
		`permission .{0,40} (publisher|reproduce)|` +
		`cover (design|art|image|illustration) by)`,
)

var (
	wordPattern    = regexp.MustCompile(`\w+`)
	tocLinePattern = regexp.MustCompile(
		`(?i)^(chapter|part|section|appendix|introduction|foreword|preface|prologue|epilogue)\b`,
	)
	numberedLinePattern = regexp.MustCompile(`^\d+[\.\)]\s`)
)

// stripTitleFromText removes the chapter title when the body text opens
// by repeating it. Only the leading region of the text is examined.
func stripTitleFromText(title, text string) string {
	titleWords := wordPattern.FindAllString(strings.ToLower(title), -1)
	if len(titleWords) == 0 {
		return text
	}

	region := text
	if limit := len(title) * 3; limit < len(region) {
		region = region[:limit]
	}
	matches := wordPattern.FindAllStringIndex(region, -1)
	if len(matches) < len(titleWords) {
		return text
	}
	for i, w := range titleWords {
		if strings.ToLower(region[matches[i][0]:matches[i][1]]) != w {
			return text
		}
	}
	return strings.TrimSpace(text[matches[len(titleWords)-1][1]:])
}

// isSkippable reports whether a detected chapter is front or back matter
// rather than narration content.
func isSkippable(title, text string) bool {
	if skipTitlePattern.MatchString(title) {
		return true
	}
	if len(strings.Fields(text)) < 500 && frontMatterPattern.MatchString(text) {
		return true
	}
	return looksLikeTOC(text)
}

// looksLikeTOC detects inline tables of contents: short line lists where
// most lines read like chapter references.
func looksLikeTOC(text string) bool {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 5 {
		return false
	}

	chapterLike := 0
	for _, line := range lines {
		if tocLinePattern.MatchString(line) || numberedLinePattern.MatchString(line) {
			chapterLike++
		}
	}
	return chapterLike >= 4 && float64(chapterLike)/float64(len(lines)) > 0.3
}
