// Package m4b assembles per-chapter WAV files into a chaptered M4B
// audiobook using ffmpeg.
package m4b

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/jackzampolin/narrator/internal/output"
)

// BuildError wraps a failure in the M4B assembly pipeline.
type BuildError struct {
	Step string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("m4b %s failed: %v", e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ChapterInput is one synthesized chapter WAV awaiting assembly.
type ChapterInput struct {
	Title   string
	WAVPath string
}

// Validation is the post-build sanity check result.
type Validation struct {
	Path             string
	SizeBytes        int64
	DurationMS       int64
	ActualChapters   int
	ExpectedChapters int
}

// DurationString renders the duration as "1h 2m 3s".
func (v Validation) DurationString() string {
	total := v.DurationMS / 1000
	return fmt.Sprintf("%dh %dm %ds", total/3600, total%3600/60, total%60)
}

// Builder transcodes, concatenates, and muxes chapter audio.
type Builder struct {
	aacBitrate string
	logger     *slog.Logger
}

// NewBuilder creates an M4B builder encoding AAC at the given bitrate.
func NewBuilder(aacBitrate string, logger *slog.Logger) *Builder {
	return &Builder{
		aacBitrate: aacBitrate,
		logger:     logger.With("component", "m4b"),
	}
}

// Build assembles the chapters into a single M4B in tmpDir and returns
// its path. Chapter WAVs and intermediates are removed as they are
// consumed to keep peak disk usage down.
func (b *Builder) Build(ctx context.Context, chapters []ChapterInput, meta Metadata, cover []byte, tmpDir string) (string, error) {
	if len(chapters) == 0 {
		return "", &BuildError{Step: "build", Err: fmt.Errorf("no chapters to assemble")}
	}

	// Per-chapter AAC transcode; durations are probed after transcoding
	// so chapter marks line up with the encoded audio.
	var (
		m4aPaths []string
		marks    []ChapterMark
	)
	for _, ch := range chapters {
		m4aPath := strings.TrimSuffix(ch.WAVPath, filepath.Ext(ch.WAVPath)) + ".m4a"
		err := runFFmpeg(ctx, "-y", "-i", ch.WAVPath,
			"-c:a", "aac", "-b:a", b.aacBitrate,
			m4aPath,
		)
		if err != nil {
			return "", err
		}
		os.Remove(ch.WAVPath)

		dur, err := durationMS(ctx, m4aPath)
		if err != nil {
			return "", &BuildError{Step: "probe", Err: err}
		}
		m4aPaths = append(m4aPaths, m4aPath)
		marks = append(marks, ChapterMark{Title: ch.Title, DurationMS: dur})
	}

	// Stream-copy concat of the chapter files.
	concatPath := filepath.Join(tmpDir, "concat.txt")
	var lines []string
	for _, p := range m4aPaths {
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		lines = append(lines, fmt.Sprintf("file '%s'", escaped))
	}
	if err := os.WriteFile(concatPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", &BuildError{Step: "concat list", Err: err}
	}

	combinedPath := filepath.Join(tmpDir, "combined.m4a")
	err := runFFmpeg(ctx, "-y",
		"-f", "concat", "-safe", "0",
		"-i", concatPath,
		"-c", "copy",
		combinedPath,
	)
	if err != nil {
		return "", err
	}
	for _, p := range m4aPaths {
		os.Remove(p)
	}
	os.Remove(concatPath)

	metadataPath := filepath.Join(tmpDir, "ffmetadata.txt")
	if err := os.WriteFile(metadataPath, []byte(renderMetadata(meta, marks)), 0o644); err != nil {
		return "", &BuildError{Step: "metadata", Err: err}
	}

	m4bPath := filepath.Join(tmpDir, output.SanitizeFilename(meta.Title)+".m4b")
	if len(cover) > 0 {
		coverPath := filepath.Join(tmpDir, "cover.jpg")
		if err := writeJPEG(cover, coverPath); err != nil {
			b.logger.Warn("cover conversion failed, muxing without cover", "error", err)
			cover = nil
		} else {
			err = runFFmpeg(ctx, "-y",
				"-i", combinedPath,
				"-i", coverPath,
				"-i", metadataPath,
				"-map", "0:a", "-map", "1:v",
				"-map_metadata", "2",
				"-c:a", "copy", "-c:v", "mjpeg",
				"-disposition:v", "attached_pic",
				"-movflags", "+faststart",
				m4bPath,
			)
			if err != nil {
				return "", err
			}
		}
	}
	if len(cover) == 0 {
		err = runFFmpeg(ctx, "-y",
			"-i", combinedPath,
			"-i", metadataPath,
			"-map", "0:a",
			"-map_metadata", "1",
			"-c:a", "copy",
			"-movflags", "+faststart",
			m4bPath,
		)
		if err != nil {
			return "", err
		}
	}
	os.Remove(combinedPath)

	return m4bPath, nil
}

// Validate checks the finished M4B for presence, size, duration, and
// chapter count.
func (b *Builder) Validate(ctx context.Context, path string, expectedChapters int) (*Validation, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, &BuildError{Step: "validate", Err: fmt.Errorf("file missing or empty: %s", path)}
	}

	actual, err := chapterCount(ctx, path)
	if err != nil {
		return nil, &BuildError{Step: "validate", Err: err}
	}
	dur, err := durationMS(ctx, path)
	if err != nil {
		return nil, &BuildError{Step: "validate", Err: err}
	}

	v := &Validation{
		Path:             path,
		SizeBytes:        info.Size(),
		DurationMS:       dur,
		ActualChapters:   actual,
		ExpectedChapters: expectedChapters,
	}
	b.logger.Info("m4b validation",
		"size_mb", fmt.Sprintf("%.1f", float64(v.SizeBytes)/(1024*1024)),
		"duration", v.DurationString(),
		"chapters", v.ActualChapters,
		"expected", v.ExpectedChapters,
	)
	return v, nil
}

// writeJPEG re-encodes arbitrary image bytes as a baseline JPEG.
func writeJPEG(data []byte, path string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode cover image: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}
