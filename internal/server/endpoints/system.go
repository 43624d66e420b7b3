package endpoints

import (
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
)

// ScanResponse reports how many books the library currently holds.
type ScanResponse struct {
	BooksFound int `json:"books_found"`
}

// ScanEndpoint handles POST /scan, forcing a fresh library listing.
type ScanEndpoint struct{}

func (e *ScanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/scan", e.handler
}

func (e *ScanEndpoint) RequiresInit() bool { return true }

func (e *ScanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	books, err := svcctx.LibraryFrom(r.Context()).ListBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{BooksFound: len(books)})
}

func (e *ScanEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the library for books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ScanResponse
			if err := client.Post(cmd.Context(), "/scan", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// AuthorCount is one author with their completed book count.
type AuthorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// VoiceCountEntry is one voice with its completed book count.
type VoiceCountEntry struct {
	Voice string `json:"voice"`
	Count int    `json:"count"`
}

// StatsResponse aggregates completed conversions.
type StatsResponse struct {
	Queue            map[store.JobStatus]int `json:"queue"`
	CompletedBooks   int                     `json:"completed_books"`
	TotalDurationSec int64                   `json:"total_duration_seconds"`
	TotalSizeBytes   int64                   `json:"total_size_bytes"`
	TopAuthors       []AuthorCount           `json:"top_authors"`
	VoiceUsage       []VoiceCountEntry       `json:"voice_usage"`
}

// StatsEndpoint handles GET /stats.
type StatsEndpoint struct{}

func (e *StatsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/stats", e.handler
}

func (e *StatsEndpoint) RequiresInit() bool { return true }

func (e *StatsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())

	summary, err := st.QueueSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	completed, err := st.ListJobs(store.StatusComplete, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatsResponse{
		Queue:          summary,
		CompletedBooks: len(completed),
		TopAuthors:     []AuthorCount{},
		VoiceUsage:     []VoiceCountEntry{},
	}

	authors := map[string]int{}
	voices := map[string]int{}
	for _, j := range completed {
		if j.DurationSec != nil {
			resp.TotalDurationSec += *j.DurationSec
		}
		if j.FileSizeBytes != nil {
			resp.TotalSizeBytes += *j.FileSizeBytes
		}
		authors[j.Author]++
		voices[j.Voice]++
	}

	for a, c := range authors {
		resp.TopAuthors = append(resp.TopAuthors, AuthorCount{Author: a, Count: c})
	}
	sort.Slice(resp.TopAuthors, func(i, j int) bool {
		if resp.TopAuthors[i].Count != resp.TopAuthors[j].Count {
			return resp.TopAuthors[i].Count > resp.TopAuthors[j].Count
		}
		return resp.TopAuthors[i].Author < resp.TopAuthors[j].Author
	})
	if len(resp.TopAuthors) > 10 {
		resp.TopAuthors = resp.TopAuthors[:10]
	}

	for v, c := range voices {
		resp.VoiceUsage = append(resp.VoiceUsage, VoiceCountEntry{Voice: v, Count: c})
	}
	sort.Slice(resp.VoiceUsage, func(i, j int) bool {
		if resp.VoiceUsage[i].Count != resp.VoiceUsage[j].Count {
			return resp.VoiceUsage[i].Count > resp.VoiceUsage[j].Count
		}
		return resp.VoiceUsage[i].Voice < resp.VoiceUsage[j].Voice
	})

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conversion statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatsResponse
			if err := client.Get(cmd.Context(), "/stats", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
