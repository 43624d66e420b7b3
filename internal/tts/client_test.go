package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jackzampolin/narrator/internal/config"
)

func testTTSConfig(url string) config.TTSConfig {
	return config.TTSConfig{
		URL:               url,
		DefaultVoice:      "af_heart",
		TokenLimit:        250,
		TokenFloor:        80,
		CharsPerToken:     3.5,
		MaxRetries:        1,
		StartupTimeoutSec: 5,
		CooldownSec:       0,
		RestInterval:      1000,
		RestDurationSec:   0,
		CrossfadeMS:       10,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTTSServer answers voice and speech requests with valid payloads
// and counts speech calls.
func fakeTTSServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	wavData, err := encodeWAV(sineClip(24000, 2400))
	if err != nil {
		t.Fatalf("building fixture WAV: %v", err)
	}

	var speechCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/audio/voices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"voices": {"af_heart", "am_adam"}})
	})
	mux.HandleFunc("POST /v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req["model"] != "kokoro" || req["voice"] == "" || req["input"] == "" {
			http.Error(w, "missing fields", http.StatusBadRequest)
			return
		}
		speechCalls.Add(1)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wavData)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &speechCalls
}

func TestVoices(t *testing.T) {
	srv, _ := fakeTTSServer(t)
	c := NewClient(testTTSConfig(srv.URL), testLogger())

	raw, err := c.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if got := VoiceCount(raw); got != 2 {
		t.Fatalf("expected 2 voices, got %d", got)
	}
}

func TestVoiceCount(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"bare array", `["af_heart","am_adam","bf_emma"]`, 3},
		{"wrapped object", `{"voices":["af_heart"]}`, 1},
		{"empty array", `[]`, 0},
		{"unparseable", `"nope"`, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VoiceCount(json.RawMessage(tt.raw)); got != tt.want {
				t.Fatalf("VoiceCount(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPollReady_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// 5s startup timeout yields a single poll attempt, so this fails fast.
	c := NewClient(testTTSConfig(srv.URL), testLogger())
	err := c.pollReady(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSynthesizeChapter(t *testing.T) {
	srv, speechCalls := fakeTTSServer(t)
	c := NewClient(testTTSConfig(srv.URL), testLogger())

	outPath := filepath.Join(t.TempDir(), "chapter_001.wav")
	err := c.SynthesizeChapter(context.Background(), ChapterRequest{
		Title:         "The Beginning",
		Text:          "It was a dark and stormy night. The rain fell in torrents.",
		Voice:         "af_heart",
		OutputPath:    outPath,
		ChapterNum:    1,
		TotalChapters: 3,
	})
	if err != nil {
		t.Fatalf("SynthesizeChapter: %v", err)
	}

	// Title announcement plus one text chunk.
	if got := speechCalls.Load(); got != 2 {
		t.Fatalf("expected 2 speech requests, got %d", got)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	combined, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("output is not valid WAV: %v", err)
	}
	if combined.rate != 24000 {
		t.Fatalf("unexpected sample rate %d", combined.rate)
	}
	// Two 2400-sample segments joined with a 240-sample crossfade.
	if len(combined.samples) != 2*2400-240 {
		t.Fatalf("unexpected sample count %d", len(combined.samples))
	}
}

func TestSynthesizeChapter_SkipsExistingOutput(t *testing.T) {
	srv, speechCalls := fakeTTSServer(t)
	c := NewClient(testTTSConfig(srv.URL), testLogger())

	outPath := filepath.Join(t.TempDir(), "chapter_002.wav")
	if err := os.WriteFile(outPath, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.SynthesizeChapter(context.Background(), ChapterRequest{
		Title:      "Cached Chapter",
		Text:       "This text should never reach the server.",
		Voice:      "af_heart",
		OutputPath: outPath,
	})
	if err != nil {
		t.Fatalf("SynthesizeChapter: %v", err)
	}
	if got := speechCalls.Load(); got != 0 {
		t.Fatalf("expected no speech requests for cached chapter, got %d", got)
	}
}

func TestSynthesizeChapter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testTTSConfig(srv.URL), testLogger())
	err := c.SynthesizeChapter(context.Background(), ChapterRequest{
		Title:      "Doomed",
		Text:       "Short text.",
		Voice:      "af_heart",
		OutputPath: filepath.Join(t.TempDir(), "chapter_003.wav"),
	})

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if synthErr.Chapter != "Doomed" {
		t.Fatalf("unexpected chapter in error: %q", synthErr.Chapter)
	}
}

func TestSpokenTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CHAPTER ONE", "Chapter One"},
		{"Chapter One", "Chapter One"},
		{"THE END?", "The End?"},
		{"Mixed CASE Title", "Mixed CASE Title"},
		{"1984", "1984"},
	}
	for _, tt := range tests {
		if got := spokenTitle(tt.in); got != tt.want {
			t.Errorf("spokenTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
