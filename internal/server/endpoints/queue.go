package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/events"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
)

// QueueResponse is the full queue view.
type QueueResponse struct {
	Paused  bool                    `json:"paused"`
	Summary map[store.JobStatus]int `json:"summary"`
	Active  *store.Job              `json:"active"`
	Pending []store.Job             `json:"pending"`
}

// QueueEndpoint handles GET /queue.
type QueueEndpoint struct{}

func (e *QueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/queue", e.handler
}

func (e *QueueEndpoint) RequiresInit() bool { return true }

func (e *QueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	state := svcctx.HealthFrom(r.Context())

	summary, err := st.QueueSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var active *store.Job
	if wk := svcctx.WorkerFrom(r.Context()); wk != nil {
		if id := wk.CurrentJobID(); id != 0 {
			if job, err := st.GetJob(id); err == nil {
				active = job
			}
		}
	}

	pending, err := st.ListJobs(store.StatusPending, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []store.Job{}
	}

	writeJSON(w, http.StatusOK, QueueResponse{
		Paused:  state.QueuePaused(),
		Summary: summary,
		Active:  active,
		Pending: pending,
	})
}

func (e *QueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the conversion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp QueueResponse
			if err := client.Get(cmd.Context(), "/queue", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PausedResponse reports the queue pause flag after a toggle.
type PausedResponse struct {
	Paused bool `json:"paused"`
}

// PauseQueueEndpoint handles POST /queue/pause.
type PauseQueueEndpoint struct{}

func (e *PauseQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/pause", e.handler
}

func (e *PauseQueueEndpoint) RequiresInit() bool { return true }

func (e *PauseQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svcctx.HealthFrom(r.Context()).SetQueuePaused(true)
	svcctx.BusFrom(r.Context()).Publish(events.Event{Type: events.TypeQueuePaused})
	writeJSON(w, http.StatusOK, PausedResponse{Paused: true})
}

func (e *PauseQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the conversion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PausedResponse
			if err := client.Post(cmd.Context(), "/queue/pause", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ResumeQueueEndpoint handles POST /queue/resume.
type ResumeQueueEndpoint struct{}

func (e *ResumeQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/resume", e.handler
}

func (e *ResumeQueueEndpoint) RequiresInit() bool { return true }

func (e *ResumeQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svcctx.HealthFrom(r.Context()).SetQueuePaused(false)
	svcctx.BusFrom(r.Context()).Publish(events.Event{Type: events.TypeQueueResumed})
	writeJSON(w, http.StatusOK, PausedResponse{Paused: false})
}

func (e *ResumeQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the conversion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PausedResponse
			if err := client.Post(cmd.Context(), "/queue/resume", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelJobEndpoint handles DELETE /queue/{job_id}.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/queue/{job_id}", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if err := st.CancelJob(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	svcctx.BusFrom(r.Context()).Publish(events.Event{
		Type:  events.TypeJobCancelled,
		JobID: id,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			return client.Delete(cmd.Context(), "/queue/"+args[0])
		},
	}
}

// RetryJobEndpoint handles POST /queue/{job_id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/{job_id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	job, err := st.RetryJob(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, store.ErrStateConflict):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.Job
			if err := client.Post(cmd.Context(), "/queue/"+args[0]+"/retry", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ReorderRequest lists pending job ids in their desired order.
type ReorderRequest struct {
	JobIDs []int64 `json:"job_ids"`
}

// ReorderQueueEndpoint handles PATCH /queue/reorder.
type ReorderQueueEndpoint struct{}

func (e *ReorderQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/queue/reorder", e.handler
}

func (e *ReorderQueueEndpoint) RequiresInit() bool { return true }

func (e *ReorderQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "job_ids required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if err := st.Reorder(req.JobIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"reordered": true})
}

func (e *ReorderQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <job-id>...",
		Short: "Reorder pending jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			client := api.NewClient(getServerURL())
			var resp map[string]bool
			if err := client.Patch(cmd.Context(), "/queue/reorder", ReorderRequest{JobIDs: ids}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
