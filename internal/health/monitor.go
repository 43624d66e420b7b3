package health

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/narrator/internal/tts"
)

// DefaultInterval is how often the monitor refreshes dependency checks.
const DefaultInterval = 60 * time.Second

// Monitor periodically refreshes the health state's dependency checks.
type Monitor struct {
	state       *State
	tts         *tts.Client
	libraryPath string
	outputPath  string
	interval    time.Duration
	logger      *slog.Logger
}

// NewMonitor creates a monitor updating state every interval.
func NewMonitor(state *State, ttsClient *tts.Client, libraryPath, outputPath string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		state:       state,
		tts:         ttsClient,
		libraryPath: libraryPath,
		outputPath:  outputPath,
		interval:    interval,
		logger:      logger.With("component", "health"),
	}
}

// Run checks dependencies immediately and then every interval until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.checkAll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	m.checkTTS(ctx)
	m.checkLibrary()
	m.checkOutput()
}

func (m *Monitor) checkTTS(ctx context.Context) {
	raw, err := m.tts.Voices(ctx)
	if err != nil {
		m.state.SetTTS(false, 0)
		return
	}
	count := tts.VoiceCount(raw)
	if count < 0 {
		count = 0
	}
	m.state.SetTTS(true, count)
}

func (m *Monitor) checkLibrary() {
	info, err := os.Stat(m.libraryPath)
	m.state.SetLibrary(err == nil && info.IsDir())
}

func (m *Monitor) checkOutput() {
	if err := os.MkdirAll(m.outputPath, 0o755); err != nil {
		m.state.SetOutput(false)
		return
	}
	probe := filepath.Join(m.outputPath, ".narrator_write_test")
	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		m.state.SetOutput(false)
		return
	}
	os.Remove(probe)
	m.state.SetOutput(true)
}
