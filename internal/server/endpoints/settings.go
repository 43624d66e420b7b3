package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
)

// GetSettingsEndpoint handles GET /settings.
type GetSettingsEndpoint struct{}

func (e *GetSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/settings", e.handler
}

func (e *GetSettingsEndpoint) RequiresInit() bool { return true }

func (e *GetSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svcctx.SettingsFrom(r.Context()).All())
}

func (e *GetSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]string
			if err := client.Get(cmd.Context(), "/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateSettingsEndpoint handles PATCH /settings. Unknown keys are
// silently ignored; the response echoes the keys that were applied.
type UpdateSettingsEndpoint struct{}

func (e *UpdateSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/settings", e.handler
}

func (e *UpdateSettingsEndpoint) RequiresInit() bool { return true }

func (e *UpdateSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settings := svcctx.SettingsFrom(r.Context())
	updated := map[string]string{}
	for key, value := range body {
		if !store.Known(key) {
			continue
		}
		str := fmt.Sprintf("%v", value)
		if err := settings.Set(key, str); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		updated[key] = str
	}

	writeJSON(w, http.StatusOK, updated)
}

func (e *UpdateSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings-set <key> <value>",
		Short: "Update a runtime setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]string
			body := map[string]any{args[0]: args[1]}
			if err := client.Patch(cmd.Context(), "/settings", body, &resp); err != nil {
				return err
			}
			if len(resp) == 0 {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			return api.Output(resp)
		},
	}
}
