// Package tts drives a remote Kokoro-compatible text-to-speech server:
// chapter text is chunked to the model's token budget, synthesized chunk
// by chunk, and merged into a single WAV per chapter.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/avast/retry-go/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jackzampolin/narrator/internal/config"
)

const (
	readyPollInterval = 5 * time.Second
	readyPollTimeout  = 10 * time.Second
	warmupTimeout     = 60 * time.Second
	warmupAttempts    = 3
	warmupSettle      = 5 * time.Second
	warmupBackoff     = 15 * time.Second
	requestTimeout    = 120 * time.Second
)

// warmupText primes the model before real synthesis so first-chunk
// latency does not hit chapter audio.
const warmupText = "This is a warmup request to initialize the text to speech model. " +
	"The quick brown fox jumps over the lazy dog near the bank of a quiet river. " +
	"She sells seashells by the seashore while the waves crash gently on the sand."

// Client talks to a Kokoro-compatible OpenAI-style speech API.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	cfg        config.TTSConfig
}

// NewClient creates a TTS client for the configured server.
func NewClient(cfg config.TTSConfig, logger *slog.Logger) *Client {
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		logger:     logger.With("component", "tts"),
		cfg:        cfg,
	}
}

// Voices fetches the server's voice list as raw JSON.
func (c *Client) Voices(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, readyPollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/v1/audio/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build voices request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: voices returned status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices response: %w", err)
	}
	return json.RawMessage(body), nil
}

// VoiceCount parses a voice list response. The server returns either a
// bare array or an object with a "voices" array.
func VoiceCount(raw json.RawMessage) int {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	var obj struct {
		Voices []string `json:"voices"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return len(obj.Voices)
	}
	return -1
}

// WaitUntilReady blocks until the server answers voice queries and has
// survived warmup synthesis, or the startup timeout elapses.
func (c *Client) WaitUntilReady(ctx context.Context) error {
	c.logger.Info("waiting for tts server", "url", c.url)
	if err := c.pollReady(ctx); err != nil {
		return err
	}
	return c.warmup(ctx)
}

// pollReady polls the voice endpoint every 5s for up to the startup
// timeout.
func (c *Client) pollReady(ctx context.Context) error {
	attempts := c.cfg.StartupTimeoutSec / int(readyPollInterval.Seconds())
	if attempts < 1 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			raw, err := c.Voices(ctx)
			if err != nil {
				return err
			}
			c.logger.Info("tts server responding", "voices", VoiceCount(raw))
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(readyPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: not reachable after %ds", ErrUnavailable, c.cfg.StartupTimeoutSec)
	}
	return nil
}

func (c *Client) warmup(ctx context.Context) error {
	for attempt := 1; attempt <= warmupAttempts; attempt++ {
		c.logger.Info("warming up tts model", "attempt", attempt, "of", warmupAttempts)

		err := c.speak(ctx, warmupText, c.cfg.DefaultVoice, warmupTimeout, io.Discard)
		if err == nil {
			if err := sleepCtx(ctx, warmupSettle); err != nil {
				return err
			}
			c.logger.Info("tts server ready")
			return nil
		}

		c.logger.Warn("warmup failed, restarting health check", "error", err)
		if err := sleepCtx(ctx, warmupBackoff); err != nil {
			return err
		}
		if err := c.pollReady(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: failed to stabilize after %d warmup attempts", ErrUnavailable, warmupAttempts)
}

// ChapterRequest describes one chapter synthesis.
type ChapterRequest struct {
	Title         string
	Text          string
	Voice         string
	OutputPath    string
	ChapterNum    int
	TotalChapters int
}

// SynthesizeChapter renders one chapter to a WAV file. An existing
// output file short-circuits, making re-runs resumable per chapter.
func (c *Client) SynthesizeChapter(ctx context.Context, req ChapterRequest) error {
	if _, err := os.Stat(req.OutputPath); err == nil {
		c.logger.Info("chapter cached", "chapter", req.ChapterNum, "of", req.TotalChapters, "title", req.Title)
		return nil
	}

	chunks := append(
		[]string{spokenTitle(req.Title) + "."},
		ChunkText(req.Text, ChunkOptions{
			Limit:         c.cfg.TokenLimit,
			Floor:         c.cfg.TokenFloor,
			CharsPerToken: c.cfg.CharsPerToken,
		})...,
	)

	var segments []clip
	for i, chunk := range chunks {
		chunkNum := i + 1
		if chunkNum > 1 && (chunkNum-1)%c.cfg.RestInterval == 0 {
			c.logger.Info("resting to let tts recover vram", "seconds", c.cfg.RestDurationSec)
			if err := sleepCtx(ctx, time.Duration(c.cfg.RestDurationSec)*time.Second); err != nil {
				return err
			}
		}
		c.logger.Info("synthesizing chunk",
			"chapter", req.ChapterNum, "of", req.TotalChapters,
			"chunk", chunkNum, "chunks", len(chunks), "title", req.Title)

		audio, err := c.requestWithRecovery(ctx, chunk, req.Voice)
		if err != nil {
			return &SynthesisError{Chapter: req.Title, Err: err}
		}
		segment, err := decodeWAV(audio)
		if err != nil {
			return &SynthesisError{Chapter: req.Title, Err: err}
		}
		segments = append(segments, segment)

		if chunkNum < len(chunks) {
			if err := sleepCtx(ctx, time.Duration(c.cfg.CooldownSec*float64(time.Second))); err != nil {
				return err
			}
		}
	}

	if len(segments) == 0 {
		return &SynthesisError{Chapter: req.Title, Err: fmt.Errorf("no audio segments produced")}
	}

	combined := segments[0]
	for _, segment := range segments[1:] {
		var err error
		combined, err = appendWithCrossfade(combined, segment, c.cfg.CrossfadeMS)
		if err != nil {
			return &SynthesisError{Chapter: req.Title, Err: err}
		}
	}

	data, err := encodeWAV(combined)
	if err != nil {
		return &SynthesisError{Chapter: req.Title, Err: err}
	}
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return &SynthesisError{Chapter: req.Title, Err: err}
	}
	return nil
}

// requestWithRecovery retries a synthesis request, running the full
// readiness handshake between attempts so a restarted backend gets its
// warmup before real traffic resumes.
func (c *Client) requestWithRecovery(ctx context.Context, text, voice string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		var buf bytes.Buffer
		err := c.speak(ctx, text, voice, requestTimeout, &buf)
		if err == nil {
			return buf.Bytes(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.cfg.MaxRetries {
			c.logger.Warn("tts request failed",
				"attempt", attempt, "of", c.cfg.MaxRetries, "error", err)
			c.logger.Info("waiting for tts server to recover")
			if err := c.WaitUntilReady(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// speak issues one synthesis POST and streams the WAV into w.
func (c *Client) speak(ctx context.Context, text, voice string, timeout time.Duration, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"model":           "kokoro",
		"input":           text,
		"voice":           voice,
		"response_format": "wav",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("speech returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read speech response: %w", err)
	}
	return nil
}

// spokenTitle softens shouty all-caps headings before narration.
func spokenTitle(title string) string {
	if isAllUpper(title) {
		return cases.Title(language.English).String(strings.ToLower(title))
	}
	return title
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
