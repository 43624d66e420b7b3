// Package health tracks process-wide service health for the status
// endpoints.
package health

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of service health.
type Snapshot struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TTS           struct {
		Connected bool `json:"connected"`
		Voices    int  `json:"voices"`
	} `json:"tts"`
	Library struct {
		Accessible bool `json:"accessible"`
	} `json:"library"`
	Output struct {
		Writable bool `json:"writable"`
	} `json:"output"`
	Worker struct {
		Running     bool `json:"running"`
		QueuePaused bool `json:"queue_paused"`
	} `json:"worker"`
}

// State is the mutable health state shared between the monitor, the
// worker, and the API handlers.
type State struct {
	mu sync.RWMutex

	ttsConnected      bool
	ttsVoices         int
	ttsLastCheck      time.Time
	libraryAccessible bool
	outputWritable    bool
	workerRunning     bool
	queuePaused       bool
	start             time.Time
}

// NewState creates health state with the uptime clock started.
func NewState() *State {
	return &State{start: time.Now()}
}

// SetTTS records TTS reachability and voice count.
func (s *State) SetTTS(connected bool, voices int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsConnected = connected
	s.ttsVoices = voices
	s.ttsLastCheck = time.Now()
}

// SetLibrary records library directory accessibility.
func (s *State) SetLibrary(accessible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraryAccessible = accessible
}

// SetOutput records output directory writability.
func (s *State) SetOutput(writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputWritable = writable
}

// SetWorkerRunning records whether the conversion worker loop is alive.
func (s *State) SetWorkerRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerRunning = running
}

// SetQueuePaused records the queue pause flag.
func (s *State) SetQueuePaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuePaused = paused
}

// QueuePaused reads the queue pause flag.
func (s *State) QueuePaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queuePaused
}

// Ready reports whether the service can accept conversion work.
func (s *State) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttsConnected && s.libraryAccessible && s.outputWritable
}

// Snapshot returns the current health view. Overall status is healthy
// with all dependencies up, degraded with at least the library, and
// unhealthy otherwise.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	switch {
	case s.ttsConnected && s.libraryAccessible && s.outputWritable:
		snap.Status = "healthy"
	case s.libraryAccessible:
		snap.Status = "degraded"
	default:
		snap.Status = "unhealthy"
	}
	snap.UptimeSeconds = int64(time.Since(s.start).Seconds())
	snap.TTS.Connected = s.ttsConnected
	snap.TTS.Voices = s.ttsVoices
	snap.Library.Accessible = s.libraryAccessible
	snap.Output.Writable = s.outputWritable
	snap.Worker.Running = s.workerRunning
	snap.Worker.QueuePaused = s.queuePaused
	return snap
}
