package endpoints

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/svcctx"
)

// voiceCacheTTL bounds how often the TTS service is asked for voices.
const voiceCacheTTL = 5 * time.Minute

// VoicesResponse lists the voices offered by the TTS service.
type VoicesResponse struct {
	Voices []string `json:"voices"`
	Error  string   `json:"error,omitempty"`
}

// ListVoicesEndpoint handles GET /voices, proxying the TTS service with
// a short-lived cache.
type ListVoicesEndpoint struct {
	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

func (e *ListVoicesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/voices", e.handler
}

func (e *ListVoicesEndpoint) RequiresInit() bool { return true }

func (e *ListVoicesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cached != nil && time.Since(e.fetchedAt) < voiceCacheTTL {
		writeJSON(w, http.StatusOK, VoicesResponse{Voices: e.cached})
		return
	}

	raw, err := svcctx.TTSFrom(r.Context()).Voices(r.Context())
	if err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Warn("failed to fetch voices", "error", err)
		}
		if e.cached != nil {
			writeJSON(w, http.StatusOK, VoicesResponse{Voices: e.cached})
			return
		}
		writeJSON(w, http.StatusOK, VoicesResponse{Voices: []string{}, Error: err.Error()})
		return
	}

	e.cached = parseVoices(raw)
	e.fetchedAt = time.Now()
	writeJSON(w, http.StatusOK, VoicesResponse{Voices: e.cached})
}

func (e *ListVoicesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available TTS voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp VoicesResponse
			if err := client.Get(cmd.Context(), "/voices", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RefreshVoicesEndpoint handles POST /voices/refresh, dropping the cache.
type RefreshVoicesEndpoint struct {
	List *ListVoicesEndpoint
}

func (e *RefreshVoicesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/voices/refresh", e.handler
}

func (e *RefreshVoicesEndpoint) RequiresInit() bool { return true }

func (e *RefreshVoicesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	e.List.mu.Lock()
	e.List.cached = nil
	e.List.fetchedAt = time.Time{}
	e.List.mu.Unlock()
	e.List.handler(w, r)
}

func (e *RefreshVoicesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "voices-refresh",
		Short: "Refresh the cached TTS voice list",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp VoicesResponse
			if err := client.Post(cmd.Context(), "/voices/refresh", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// parseVoices accepts either a bare JSON array or {"voices": [...]}.
func parseVoices(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Voices []string `json:"voices"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Voices != nil {
		return wrapped.Voices
	}
	return []string{}
}
