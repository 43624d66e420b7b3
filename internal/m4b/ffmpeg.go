package m4b

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// runFFmpeg executes ffmpeg and surfaces its combined output on failure.
func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &BuildError{Step: "ffmpeg", Err: fmt.Errorf("%w\noutput: %s", err, string(output))}
	}
	return nil
}

// durationMS reads a media file's duration in milliseconds via ffprobe.
func durationMS(ctx context.Context, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(probe.Format.Duration), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probe.Format.Duration, err)
	}
	return int64(seconds * 1000), nil
}

// chapterCount reads the number of chapter markers in a file.
func chapterCount(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_chapters",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probe struct {
		Chapters []json.RawMessage `json:"chapters"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe chapters: %w", err)
	}
	return len(probe.Chapters), nil
}

// CheckAvailable verifies ffmpeg and ffprobe are on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}
