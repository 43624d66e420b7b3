package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/epub"
	"github.com/jackzampolin/narrator/internal/library"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
)

// BookSummary is one library book with its conversion status.
type BookSummary struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Series      *string  `json:"series,omitempty"`
	SeriesIndex *float64 `json:"series_index,omitempty"`
	HasCover    bool     `json:"has_cover"`
	Status      string   `json:"status"`
}

// ListBooksResponse is the paginated book listing.
type ListBooksResponse struct {
	Books      []BookSummary `json:"books"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	TotalPages int           `json:"total_pages"`
}

// ListBooksEndpoint handles GET /books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reader := svcctx.LibraryFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	writer := svcctx.WriterFrom(r.Context())

	books, err := reader.ListBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	q := r.URL.Query()
	if search := strings.ToLower(q.Get("search")); search != "" {
		filtered := books[:0]
		for _, b := range books {
			if strings.Contains(strings.ToLower(b.Title), search) ||
				strings.Contains(strings.ToLower(b.Author), search) {
				filtered = append(filtered, b)
			}
		}
		books = filtered
	}
	if author := q.Get("author"); author != "" {
		filtered := books[:0]
		for _, b := range books {
			if b.Author == author {
				filtered = append(filtered, b)
			}
		}
		books = filtered
	}

	if q.Get("sort") == "author" {
		sort.SliceStable(books, func(i, j int) bool {
			ai, aj := strings.ToLower(books[i].Author), strings.ToLower(books[j].Author)
			if ai != aj {
				return ai < aj
			}
			return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
		})
	} else {
		sort.SliceStable(books, func(i, j int) bool {
			return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
		})
	}

	page := intQuery(q.Get("page"), 1)
	perPage := intQuery(q.Get("per_page"), 25)
	if perPage > 100 {
		perPage = 100
	}
	total := len(books)
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	lo := (page - 1) * perPage
	hi := lo + perPage
	if hi > total {
		hi = total
	}

	jobs, err := st.ListJobs("", 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobByBook := make(map[int64]store.Job, len(jobs))
	for _, j := range jobs {
		jobByBook[j.LibraryBookID] = j
	}

	resp := ListBooksResponse{
		Books:      []BookSummary{},
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
	for _, b := range books[lo:hi] {
		status := ""
		if j, ok := jobByBook[b.ID]; ok {
			status = string(j.Status)
		} else if writer.AlreadyExists(bookMeta(b)) {
			status = "converted"
		}
		resp.Books = append(resp.Books, BookSummary{
			ID:          b.ID,
			Title:       b.Title,
			Author:      b.Author,
			Series:      b.Series,
			SeriesIndex: b.SeriesIndex,
			HasCover:    b.HasCover,
			Status:      status,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List library books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/books"
			if search != "" {
				path += "?search=" + search
			}
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Filter by title or author")
	return cmd
}

// ChapterPreview is a chapter's title and opening text.
type ChapterPreview struct {
	Title     string `json:"title"`
	WordCount int    `json:"word_count"`
	Preview   string `json:"preview"`
}

// BookDetailResponse is a single book with its extractable chapters.
type BookDetailResponse struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Author      string           `json:"author"`
	Series      *string          `json:"series,omitempty"`
	SeriesIndex *float64         `json:"series_index,omitempty"`
	Description string           `json:"description,omitempty"`
	HasCover    bool             `json:"has_cover"`
	Chapters    []ChapterPreview `json:"chapters"`
}

// GetBookEndpoint handles GET /books/{book_id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/books/{book_id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("book_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	reader := svcctx.LibraryFrom(r.Context())
	book, err := reader.GetBook(id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	resp := BookDetailResponse{
		ID:          book.ID,
		Title:       book.Title,
		Author:      book.Author,
		Series:      book.Series,
		SeriesIndex: book.SeriesIndex,
		Description: book.Description,
		HasCover:    book.HasCover,
		Chapters:    []ChapterPreview{},
	}

	// Chapter preview is best effort; a broken archive still returns
	// the book's metadata.
	logger := svcctx.LoggerFrom(r.Context())
	if sourcePath, perr := reader.SourcePath(book); perr == nil {
		if extracted, xerr := epub.Extract(sourcePath, logger); xerr == nil {
			for _, ch := range extracted.Chapters {
				preview := ch.Text
				if len(preview) > 200 {
					preview = preview[:200]
				}
				resp.Chapters = append(resp.Chapters, ChapterPreview{
					Title:     ch.Title,
					WordCount: ch.WordCount,
					Preview:   preview,
				})
			}
		} else if logger != nil {
			logger.Warn("chapter extraction failed", "book_id", id, "error", xerr)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "book <id>",
		Short: "Get a book with its chapter preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookDetailResponse
			if err := client.Get(cmd.Context(), "/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ConvertRequest selects a voice for conversion requests.
type ConvertRequest struct {
	Voice string `json:"voice,omitempty"`
}

// ConvertResponse acknowledges a queued conversion.
type ConvertResponse struct {
	JobID  int64  `json:"job_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// ConvertBookEndpoint handles POST /books/{book_id}/convert.
type ConvertBookEndpoint struct{}

func (e *ConvertBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/books/{book_id}/convert", e.handler
}

func (e *ConvertBookEndpoint) RequiresInit() bool { return true }

func (e *ConvertBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("book_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	var req ConvertRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	reader := svcctx.LibraryFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	settings := svcctx.SettingsFrom(r.Context())

	voice := req.Voice
	if voice == "" {
		voice = settings.Get("default_voice")
	}

	book, err := reader.GetBook(id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	dup, err := st.IsDuplicate(book.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dup {
		writeError(w, http.StatusConflict, "book already has an active job")
		return
	}

	sourcePath, err := reader.SourcePath(book)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := st.Enqueue(store.EnqueueParams{
		LibraryBookID: book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Series:        book.Series,
		SeriesIndex:   book.SeriesIndex,
		Voice:         voice,
		SourcePath:    sourcePath,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ConvertResponse{
		JobID:  job.ID,
		Title:  job.Title,
		Status: string(job.Status),
	})
}

func (e *ConvertBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "convert <book-id>",
		Short: "Queue a book for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConvertResponse
			path := "/books/" + args[0] + "/convert"
			if err := client.Post(cmd.Context(), path, ConvertRequest{Voice: voice}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice (defaults to the default_voice setting)")
	return cmd
}

// ConvertBatchRequest queues several books at once.
type ConvertBatchRequest struct {
	BookIDs []int64 `json:"book_ids"`
	Voice   string  `json:"voice,omitempty"`
}

// QueuedResponse reports how many books were queued.
type QueuedResponse struct {
	Queued int `json:"queued"`
}

// ConvertBatchEndpoint handles POST /books/convert-batch.
type ConvertBatchEndpoint struct{}

func (e *ConvertBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/books/convert-batch", e.handler
}

func (e *ConvertBatchEndpoint) RequiresInit() bool { return true }

func (e *ConvertBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ConvertBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.BookIDs) == 0 {
		writeError(w, http.StatusBadRequest, "book_ids required")
		return
	}

	reader := svcctx.LibraryFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	settings := svcctx.SettingsFrom(r.Context())
	logger := svcctx.LoggerFrom(r.Context())

	voice := req.Voice
	if voice == "" {
		voice = settings.Get("default_voice")
	}

	queued := 0
	for _, id := range req.BookIDs {
		if err := enqueueBook(reader, st, id, voice); err != nil {
			if logger != nil {
				logger.Warn("failed to queue book", "book_id", id, "error", err)
			}
			continue
		}
		queued++
	}

	writeJSON(w, http.StatusOK, QueuedResponse{Queued: queued})
}

func (e *ConvertBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "convert-batch <book-id>...",
		Short: "Queue several books for conversion",
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
			var resp QueuedResponse
			req := ConvertBatchRequest{BookIDs: ids, Voice: voice}
			if err := client.Post(cmd.Context(), "/books/convert-batch", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice (defaults to the default_voice setting)")
	return cmd
}

// ConvertAllEndpoint handles POST /books/convert-all. It queues every
// unconverted library book, skipping duplicates and existing outputs.
type ConvertAllEndpoint struct{}

func (e *ConvertAllEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/books/convert-all", e.handler
}

func (e *ConvertAllEndpoint) RequiresInit() bool { return true }

func (e *ConvertAllEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	reader := svcctx.LibraryFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	settings := svcctx.SettingsFrom(r.Context())
	writer := svcctx.WriterFrom(r.Context())

	voice := req.Voice
	if voice == "" {
		voice = settings.Get("default_voice")
	}

	books, err := reader.ListBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queued := 0
	for _, book := range books {
		dup, err := st.IsDuplicate(book.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if dup || writer.AlreadyExists(bookMeta(book)) {
			continue
		}
		if err := enqueueBook(reader, st, book.ID, voice); err != nil {
			continue
		}
		queued++
	}

	writeJSON(w, http.StatusOK, QueuedResponse{Queued: queued})
}

func (e *ConvertAllEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "convert-all",
		Short: "Queue every unconverted library book",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp QueuedResponse
			req := ConvertRequest{Voice: voice}
			if err := client.Post(cmd.Context(), "/books/convert-all", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice (defaults to the default_voice setting)")
	return cmd
}

func enqueueBook(reader library.Reader, st *store.Store, id int64, voice string) error {
	book, err := reader.GetBook(id)
	if err != nil {
		return err
	}
	dup, err := st.IsDuplicate(book.ID)
	if err != nil {
		return err
	}
	if dup {
		return store.ErrDuplicate
	}
	sourcePath, err := reader.SourcePath(book)
	if err != nil {
		return err
	}
	_, err = st.Enqueue(store.EnqueueParams{
		LibraryBookID: book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Series:        book.Series,
		SeriesIndex:   book.SeriesIndex,
		Voice:         voice,
		SourcePath:    sourcePath,
	})
	return err
}

func bookMeta(b library.Book) output.BookMeta {
	meta := output.BookMeta{Title: b.Title, Author: b.Author}
	if b.Series != nil {
		meta.Series = *b.Series
	}
	return meta
}

func intQuery(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
