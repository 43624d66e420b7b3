package endpoints

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/events"
	"github.com/jackzampolin/narrator/internal/health"
	"github.com/jackzampolin/narrator/internal/library"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
	"github.com/jackzampolin/narrator/internal/tts"
)

type testEnv struct {
	srv      *httptest.Server
	store    *store.Store
	settings *store.Settings
	bus      *events.Bus
	health   *health.State
	reader   library.Reader
}

// newTestEnv stands up the full route table over real services backed by
// temp directories. ttsURL may point at a fake TTS server or be empty.
func newTestEnv(t *testing.T, ttsURL string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	libDir := t.TempDir()
	for _, p := range []string{
		filepath.Join(libDir, "Author One", "Book Alpha.epub"),
		filepath.Join(libDir, "Author Two", "Book Beta.epub"),
	} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("epub bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "narrator.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	settings, err := st.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}

	services := &svcctx.Services{
		Store:    st,
		Settings: settings,
		Bus:      events.NewBus(),
		Health:   health.NewState(),
		Library:  library.NewReader(libDir, logger),
		Writer:   output.NewWriter(t.TempDir(), logger),
		TTS:      tts.NewClient(config.TTSConfig{URL: ttsURL, StartupTimeoutSec: 5}, logger),
		Logger:   logger,
	}

	mux := http.NewServeMux()
	registry := api.NewRegistry()
	for _, ep := range All() {
		registry.Register(ep)
	}
	registry.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	}))
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:      srv,
		store:    st,
		settings: settings,
		bus:      services.Bus,
		health:   services.Health,
		reader:   services.Library,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reqBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, "")

	var snap health.Snapshot
	if code := env.do(t, "GET", "/health", nil, &snap); code != http.StatusOK {
		t.Fatalf("health returned %d", code)
	}
	if snap.Status != "unhealthy" {
		t.Fatalf("expected unhealthy before checks, got %q", snap.Status)
	}

	if code := env.do(t, "GET", "/ready", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before dependencies are up, got %d", code)
	}

	env.health.SetTTS(true, 5)
	env.health.SetLibrary(true)
	env.health.SetOutput(true)

	var ready map[string]bool
	if code := env.do(t, "GET", "/ready", nil, &ready); code != http.StatusOK {
		t.Fatalf("expected 200 once dependencies are up, got %d", code)
	}
	if !ready["ready"] {
		t.Fatal("expected ready true")
	}
	if code := env.do(t, "GET", "/health", nil, &snap); code != http.StatusOK || snap.Status != "healthy" {
		t.Fatalf("expected healthy, got %d %q", code, snap.Status)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.store.Enqueue(store.EnqueueParams{
		LibraryBookID: 1, Title: "T", Author: "A", Voice: "v", SourcePath: "/x",
	}); err != nil {
		t.Fatal(err)
	}

	var resp StatusResponse
	if code := env.do(t, "GET", "/status", nil, &resp); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}
	if resp.Server != "running" {
		t.Fatalf("unexpected server field %q", resp.Server)
	}
	if resp.Queue[store.StatusPending] != 1 {
		t.Fatalf("unexpected queue summary %v", resp.Queue)
	}
}

func TestListBooks(t *testing.T) {
	env := newTestEnv(t, "")

	var resp ListBooksResponse
	if code := env.do(t, "GET", "/books", nil, &resp); code != http.StatusOK {
		t.Fatalf("books returned %d", code)
	}
	if resp.Total != 2 || len(resp.Books) != 2 {
		t.Fatalf("expected 2 books, got %+v", resp)
	}
	// Default sort is by title.
	if resp.Books[0].Title != "Book Alpha" || resp.Books[1].Title != "Book Beta" {
		t.Fatalf("unexpected order %+v", resp.Books)
	}
	if resp.Books[0].Status != "" {
		t.Fatalf("expected no status for unconverted book, got %q", resp.Books[0].Status)
	}

	t.Run("search", func(t *testing.T) {
		var resp ListBooksResponse
		env.do(t, "GET", "/books?search=beta", nil, &resp)
		if resp.Total != 1 || resp.Books[0].Title != "Book Beta" {
			t.Fatalf("unexpected search result %+v", resp)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		var resp ListBooksResponse
		env.do(t, "GET", "/books?per_page=1&page=2", nil, &resp)
		if resp.TotalPages != 2 || resp.Page != 2 || len(resp.Books) != 1 {
			t.Fatalf("unexpected page %+v", resp)
		}
		if resp.Books[0].Title != "Book Beta" {
			t.Fatalf("unexpected second page %+v", resp.Books)
		}
	})

	t.Run("status reflects jobs", func(t *testing.T) {
		books, err := env.reader.ListBooks()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.store.Enqueue(store.EnqueueParams{
			LibraryBookID: books[0].ID, Title: books[0].Title,
			Author: books[0].Author, Voice: "v", SourcePath: "/x",
		}); err != nil {
			t.Fatal(err)
		}
		var resp ListBooksResponse
		env.do(t, "GET", "/books?search=alpha", nil, &resp)
		if resp.Books[0].Status != "pending" {
			t.Fatalf("expected pending status, got %q", resp.Books[0].Status)
		}
	})
}

func TestGetBook(t *testing.T) {
	env := newTestEnv(t, "")

	var resp BookDetailResponse
	if code := env.do(t, "GET", "/books/1", nil, &resp); code != http.StatusOK {
		t.Fatalf("book returned %d", code)
	}
	if resp.Title == "" || resp.Author == "" {
		t.Fatalf("missing metadata %+v", resp)
	}
	// The fixture is not a real archive, so the preview is empty but the
	// book itself still resolves.
	if resp.Chapters == nil {
		t.Fatal("chapters should be an empty list, not null")
	}

	if code := env.do(t, "GET", "/books/999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown book, got %d", code)
	}
	if code := env.do(t, "GET", "/books/notanumber", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", code)
	}
}

func TestConvertBook(t *testing.T) {
	env := newTestEnv(t, "")

	var resp ConvertResponse
	code := env.do(t, "POST", "/books/1/convert", ConvertRequest{Voice: "am_adam"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("convert returned %d", code)
	}
	if resp.Status != "pending" {
		t.Fatalf("unexpected status %q", resp.Status)
	}

	job, err := env.store.GetJob(resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Voice != "am_adam" {
		t.Fatalf("unexpected voice %q", job.Voice)
	}
	if job.SourcePath == "" {
		t.Fatal("source path not recorded")
	}

	t.Run("duplicate conflicts", func(t *testing.T) {
		if code := env.do(t, "POST", "/books/1/convert", nil, nil); code != http.StatusConflict {
			t.Fatalf("expected 409 for duplicate, got %d", code)
		}
	})

	t.Run("default voice from settings", func(t *testing.T) {
		var resp ConvertResponse
		if code := env.do(t, "POST", "/books/2/convert", nil, &resp); code != http.StatusOK {
			t.Fatalf("convert returned %d", code)
		}
		job, err := env.store.GetJob(resp.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Voice != "af_heart" {
			t.Fatalf("expected default voice, got %q", job.Voice)
		}
	})

	t.Run("unknown book", func(t *testing.T) {
		if code := env.do(t, "POST", "/books/999/convert", nil, nil); code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", code)
		}
	})
}

func TestConvertBatch(t *testing.T) {
	env := newTestEnv(t, "")

	if code := env.do(t, "POST", "/books/convert-batch", ConvertBatchRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without book_ids, got %d", code)
	}

	var resp QueuedResponse
	req := ConvertBatchRequest{BookIDs: []int64{1, 2, 999}}
	if code := env.do(t, "POST", "/books/convert-batch", req, &resp); code != http.StatusOK {
		t.Fatalf("convert-batch returned %d", code)
	}
	// The unknown id is skipped, not fatal.
	if resp.Queued != 2 {
		t.Fatalf("expected 2 queued, got %d", resp.Queued)
	}

	// A second batch queues nothing; both books already have jobs.
	if code := env.do(t, "POST", "/books/convert-batch", req, &resp); code != http.StatusOK {
		t.Fatalf("convert-batch returned %d", code)
	}
	if resp.Queued != 0 {
		t.Fatalf("expected 0 queued on retry, got %d", resp.Queued)
	}
}

func TestConvertAll(t *testing.T) {
	env := newTestEnv(t, "")

	var resp QueuedResponse
	if code := env.do(t, "POST", "/books/convert-all", nil, &resp); code != http.StatusOK {
		t.Fatalf("convert-all returned %d", code)
	}
	if resp.Queued != 2 {
		t.Fatalf("expected 2 queued, got %d", resp.Queued)
	}
	if n, _ := env.store.CountJobs(store.StatusPending); n != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", n)
	}
}

func TestQueueFlow(t *testing.T) {
	env := newTestEnv(t, "")
	_, ch := env.bus.Subscribe()

	var paused PausedResponse
	if code := env.do(t, "POST", "/queue/pause", nil, &paused); code != http.StatusOK || !paused.Paused {
		t.Fatalf("pause failed: %d %+v", code, paused)
	}
	if !env.health.QueuePaused() {
		t.Fatal("pause flag not set")
	}

	var queue QueueResponse
	if code := env.do(t, "GET", "/queue", nil, &queue); code != http.StatusOK {
		t.Fatalf("queue returned %d", code)
	}
	if !queue.Paused {
		t.Fatal("queue view should show paused")
	}
	if queue.Pending == nil {
		t.Fatal("pending should be an empty list, not null")
	}

	if code := env.do(t, "POST", "/queue/resume", nil, &paused); code != http.StatusOK || paused.Paused {
		t.Fatalf("resume failed: %d %+v", code, paused)
	}
	if env.health.QueuePaused() {
		t.Fatal("pause flag not cleared")
	}

	wantEvents := []string{events.TypeQueuePaused, events.TypeQueueResumed}
	for _, want := range wantEvents {
		select {
		case ev := <-ch:
			if ev.Type != want {
				t.Fatalf("expected event %s, got %s", want, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t, "")

	if code := env.do(t, "DELETE", "/queue/404", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", code)
	}

	job, err := env.store.Enqueue(store.EnqueueParams{
		LibraryBookID: 1, Title: "T", Author: "A", Voice: "v", SourcePath: "/x",
	})
	if err != nil {
		t.Fatal(err)
	}

	var resp map[string]bool
	if code := env.do(t, "DELETE", "/queue/1", nil, &resp); code != http.StatusOK || !resp["cancelled"] {
		t.Fatalf("cancel failed: %d %+v", code, resp)
	}
	got, _ := env.store.GetJob(job.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected cancelled job failed, got %s", got.Status)
	}
}

func TestRetryJob(t *testing.T) {
	env := newTestEnv(t, "")
	job, err := env.store.Enqueue(store.EnqueueParams{
		LibraryBookID: 1, Title: "T", Author: "A", Voice: "v", SourcePath: "/x",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Retrying a pending job is a state conflict.
	if code := env.do(t, "POST", "/queue/1/retry", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-failed job, got %d", code)
	}

	if err := env.store.FailJob(job.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	var retried store.Job
	if code := env.do(t, "POST", "/queue/1/retry", nil, &retried); code != http.StatusOK {
		t.Fatalf("retry returned %d", code)
	}
	if retried.Status != store.StatusPending {
		t.Fatalf("expected pending, got %s", retried.Status)
	}

	if code := env.do(t, "POST", "/queue/404/retry", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestReorderQueue(t *testing.T) {
	env := newTestEnv(t, "")

	if code := env.do(t, "PATCH", "/queue/reorder", ReorderRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without job_ids, got %d", code)
	}

	var j1, j2 *store.Job
	var err error
	if j1, err = env.store.Enqueue(store.EnqueueParams{LibraryBookID: 1, Title: "A", Voice: "v"}); err != nil {
		t.Fatal(err)
	}
	if j2, err = env.store.Enqueue(store.EnqueueParams{LibraryBookID: 2, Title: "B", Voice: "v"}); err != nil {
		t.Fatal(err)
	}

	var resp map[string]bool
	code := env.do(t, "PATCH", "/queue/reorder", ReorderRequest{JobIDs: []int64{j2.ID, j1.ID}}, &resp)
	if code != http.StatusOK || !resp["reordered"] {
		t.Fatalf("reorder failed: %d %+v", code, resp)
	}
	next, err := env.store.NextPending()
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != j2.ID {
		t.Fatalf("expected job %d first after reorder, got %d", j2.ID, next.ID)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, "")
	for i := int64(1); i <= 3; i++ {
		if _, err := env.store.Enqueue(store.EnqueueParams{LibraryBookID: i, Title: "T", Voice: "v"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.store.FailJob(3, "boom"); err != nil {
		t.Fatal(err)
	}

	var resp ListJobsResponse
	if code := env.do(t, "GET", "/jobs?per_page=2", nil, &resp); code != http.StatusOK {
		t.Fatalf("jobs returned %d", code)
	}
	if resp.Total != 3 || resp.TotalPages != 2 || len(resp.Jobs) != 2 {
		t.Fatalf("unexpected listing %+v", resp)
	}

	env.do(t, "GET", "/jobs?status=failed", nil, &resp)
	if resp.Total != 1 || resp.Jobs[0].ID != 3 {
		t.Fatalf("unexpected failed filter %+v", resp)
	}

	var job store.Job
	if code := env.do(t, "GET", "/jobs/1", nil, &job); code != http.StatusOK || job.ID != 1 {
		t.Fatalf("job fetch failed: %d %+v", code, job)
	}
	if code := env.do(t, "GET", "/jobs/404", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	var all map[string]string
	if code := env.do(t, "GET", "/settings", nil, &all); code != http.StatusOK {
		t.Fatalf("settings returned %d", code)
	}
	if all["default_voice"] != "af_heart" {
		t.Fatalf("unexpected defaults %v", all)
	}

	var applied map[string]string
	body := map[string]any{"default_voice": "am_adam", "bogus_key": "x", "auto_convert": true}
	if code := env.do(t, "PATCH", "/settings", body, &applied); code != http.StatusOK {
		t.Fatalf("settings patch returned %d", code)
	}
	if _, ok := applied["bogus_key"]; ok {
		t.Fatalf("unknown key not ignored: %v", applied)
	}
	if applied["default_voice"] != "am_adam" || applied["auto_convert"] != "true" {
		t.Fatalf("unexpected applied set %v", applied)
	}
	if env.settings.Get("default_voice") != "am_adam" {
		t.Fatal("setting not persisted")
	}
}

func TestScanAndStats(t *testing.T) {
	env := newTestEnv(t, "")

	var scan ScanResponse
	if code := env.do(t, "POST", "/scan", nil, &scan); code != http.StatusOK {
		t.Fatalf("scan returned %d", code)
	}
	if scan.BooksFound != 2 {
		t.Fatalf("expected 2 books found, got %d", scan.BooksFound)
	}

	job, err := env.store.Enqueue(store.EnqueueParams{
		LibraryBookID: 1, Title: "T", Author: "Prolific Author", Voice: "af_heart", SourcePath: "/x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.CompleteJob(job.ID, "/out", 3600, 1000); err != nil {
		t.Fatal(err)
	}

	var stats StatsResponse
	if code := env.do(t, "GET", "/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats returned %d", code)
	}
	if stats.CompletedBooks != 1 || stats.TotalDurationSec != 3600 || stats.TotalSizeBytes != 1000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.TopAuthors) != 1 || stats.TopAuthors[0].Author != "Prolific Author" {
		t.Fatalf("unexpected authors %+v", stats.TopAuthors)
	}
	if len(stats.VoiceUsage) != 1 || stats.VoiceUsage[0].Voice != "af_heart" {
		t.Fatalf("unexpected voices %+v", stats.VoiceUsage)
	}
}

func TestVoices(t *testing.T) {
	var calls atomic.Int64
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string][]string{"voices": {"af_heart", "am_adam"}})
	}))
	defer fake.Close()

	env := newTestEnv(t, fake.URL)

	var resp VoicesResponse
	if code := env.do(t, "GET", "/voices", nil, &resp); code != http.StatusOK {
		t.Fatalf("voices returned %d", code)
	}
	if len(resp.Voices) != 2 {
		t.Fatalf("unexpected voices %+v", resp)
	}

	// Second fetch is served from cache.
	env.do(t, "GET", "/voices", nil, &resp)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 upstream call, got %d", n)
	}

	// Refresh drops the cache and refetches.
	if code := env.do(t, "POST", "/voices/refresh", nil, &resp); code != http.StatusOK {
		t.Fatalf("refresh returned %d", code)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 upstream calls after refresh, got %d", n)
	}
}

func TestVoices_UpstreamDown(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0")

	var resp VoicesResponse
	if code := env.do(t, "GET", "/voices", nil, &resp); code != http.StatusOK {
		t.Fatalf("voices returned %d", code)
	}
	if len(resp.Voices) != 0 || resp.Error == "" {
		t.Fatalf("expected empty list with error, got %+v", resp)
	}
}

func TestQueueEvents_SSE(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.srv.URL + "/queue/events")
	if err != nil {
		t.Fatalf("connecting to event stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// Wait for the handler to register its subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.bus.Publish(events.Event{Type: events.TypeJobQueued, JobID: 42})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: "+events.TypeJobQueued {
		t.Fatalf("unexpected event line %q", eventLine)
	}

	var ev events.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev); err != nil {
		t.Fatalf("decoding event payload: %v", err)
	}
	if ev.JobID != 42 {
		t.Fatalf("unexpected payload %+v", ev)
	}
}
