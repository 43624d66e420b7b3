// Package worker runs the single conversion loop: it leases pending
// jobs from the store one at a time and drives them through extraction,
// synthesis, assembly, and output.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackzampolin/narrator/internal/epub"
	"github.com/jackzampolin/narrator/internal/events"
	"github.com/jackzampolin/narrator/internal/health"
	"github.com/jackzampolin/narrator/internal/m4b"
	"github.com/jackzampolin/narrator/internal/notify"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/tts"
)

const (
	pausedPollInterval = 5 * time.Second
	idlePollInterval   = 5 * time.Second
	quietPollInterval  = 60 * time.Second
)

// Extractor turns an EPUB file into chapters.
type Extractor interface {
	Extract(path string) (*epub.Book, error)
}

// Synthesizer renders chapter text to WAV files.
type Synthesizer interface {
	WaitUntilReady(ctx context.Context) error
	SynthesizeChapter(ctx context.Context, req tts.ChapterRequest) error
}

// Builder assembles chapter WAVs into a chaptered M4B.
type Builder interface {
	Build(ctx context.Context, chapters []m4b.ChapterInput, meta m4b.Metadata, cover []byte, tmpDir string) (string, error)
	Validate(ctx context.Context, path string, expectedChapters int) (*m4b.Validation, error)
}

// Writer places the finished M4B in the audiobook library.
type Writer interface {
	Write(m4bPath string, meta output.BookMeta, cover []byte, voice string) (string, error)
}

// Worker is the single-flight conversion loop.
type Worker struct {
	store       *store.Store
	settings    *store.Settings
	bus         *events.Bus
	health      *health.State
	notifier    *notify.Notifier
	extractor   Extractor
	synthesizer Synthesizer
	builder     Builder
	writer      Writer
	tempRoot    string
	logger      *slog.Logger

	mu           sync.RWMutex
	currentJobID int64
}

// Config wires the worker's collaborators.
type Config struct {
	Store       *store.Store
	Settings    *store.Settings
	Bus         *events.Bus
	Health      *health.State
	Notifier    *notify.Notifier
	Extractor   Extractor
	Synthesizer Synthesizer
	Builder     Builder
	Writer      Writer
	TempRoot    string
	Logger      *slog.Logger
}

// New creates a worker. TempRoot defaults to the OS temp dir.
func New(cfg Config) *Worker {
	tempRoot := cfg.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	return &Worker{
		store:       cfg.Store,
		settings:    cfg.Settings,
		bus:         cfg.Bus,
		health:      cfg.Health,
		notifier:    cfg.Notifier,
		extractor:   cfg.Extractor,
		synthesizer: cfg.Synthesizer,
		builder:     cfg.Builder,
		writer:      cfg.Writer,
		tempRoot:    tempRoot,
		logger:      cfg.Logger.With("component", "worker"),
	}
}

// CurrentJobID returns the id of the job being processed, or 0.
func (w *Worker) CurrentJobID() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentJobID
}

func (w *Worker) setCurrentJob(id int64) {
	w.mu.Lock()
	w.currentJobID = id
	w.mu.Unlock()
}

// Run executes the scheduling loop until the context is cancelled.
// Jobs that were mid-flight when the previous process died are reset to
// pending; their already-synthesized chapter audio is reused on rerun.
func (w *Worker) Run(ctx context.Context) {
	w.health.SetWorkerRunning(true)
	defer w.health.SetWorkerRunning(false)
	w.logger.Info("worker started")

	w.resumeInterrupted()

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		if w.health.QueuePaused() {
			if !sleep(ctx, pausedPollInterval) {
				return
			}
			continue
		}

		if w.inQuietHours(time.Now()) {
			if !sleep(ctx, quietPollInterval) {
				return
			}
			continue
		}

		job, err := w.store.NextPending()
		if err != nil {
			w.logger.Error("failed to fetch next job", "error", err)
			if !sleep(ctx, idlePollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, idlePollInterval) {
				return
			}
			continue
		}

		if delay := w.settings.GetInt("delay_between_books", 0); delay > 0 {
			if !sleep(ctx, time.Duration(delay)*time.Second) {
				return
			}
		}

		w.processJob(ctx, job.ID)
	}
}

func (w *Worker) resumeInterrupted() {
	jobs, err := w.store.GetResumable()
	if err != nil {
		w.logger.Error("failed to fetch resumable jobs", "error", err)
		return
	}
	for _, job := range jobs {
		w.logger.Info("resuming interrupted job", "id", job.ID, "title", job.Title)
		if err := w.store.UpdateProgress(job.ID, store.StatusPending, 0); err != nil {
			w.logger.Error("failed to reset interrupted job", "id", job.ID, "error", err)
		}
	}
}

// inQuietHours checks the quiet_hours_start/end settings ("HH:MM").
// Ranges where start > end wrap past midnight.
func (w *Worker) inQuietHours(now time.Time) bool {
	start := w.settings.Get("quiet_hours_start")
	end := w.settings.Get("quiet_hours_end")
	if start == "" || end == "" {
		return false
	}
	clock := now.Format("15:04")
	if start <= end {
		return start <= clock && clock <= end
	}
	return clock >= start || clock <= end
}

// processJob drives one job through the status machine. Any failure is
// contained: the job is marked failed and the loop carries on.
func (w *Worker) processJob(ctx context.Context, jobID int64) {
	w.setCurrentJob(jobID)
	defer w.setCurrentJob(0)

	if err := w.runJob(ctx, jobID); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job; the resume pass picks it up next start.
			return
		}
		w.logger.Error("job failed", "id", jobID, "error", err)
		if ferr := w.store.FailJob(jobID, err.Error()); ferr != nil {
			w.logger.Error("failed to record job failure", "id", jobID, "error", ferr)
		}
		// Failure is terminal; the workspace is only kept for jobs that
		// will resume.
		if rerr := os.RemoveAll(w.jobWorkspace(jobID)); rerr != nil {
			w.logger.Warn("failed to remove job workspace", "id", jobID, "error", rerr)
		}
		w.bus.Publish(events.Event{
			Type:  events.TypeJobFailed,
			JobID: jobID,
			Data:  map[string]any{"error": err.Error()},
		})
		if job, gerr := w.store.GetJob(jobID); gerr == nil && w.notifier != nil {
			w.notifier.JobFailed(ctx, job)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, jobID int64) error {
	job, err := w.store.GetJob(jobID)
	if err != nil {
		return err
	}

	w.bus.Publish(events.Event{
		Type:  events.TypeJobStarted,
		JobID: job.ID,
		Title: job.Title,
		Data:  map[string]any{"author": job.Author},
	})
	w.logger.Info("processing job", "id", job.ID, "title", job.Title, "author", job.Author)

	if err := w.store.StartJob(job.ID, store.StatusExtracting, 0); err != nil {
		return err
	}

	book, err := w.extractor.Extract(job.SourcePath)
	if err != nil {
		return err
	}
	chapterCount := len(book.Chapters)

	if err := w.store.StartJob(job.ID, store.StatusSynthesizing, chapterCount); err != nil {
		return err
	}

	if err := w.synthesizer.WaitUntilReady(ctx); err != nil {
		return err
	}

	// The workspace is keyed on the job id so chapter WAVs survive a
	// pause or crash; synthesis skips chapters whose output exists.
	tmpDir := w.jobWorkspace(job.ID)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create job workspace: %w", err)
	}

	var wavs []m4b.ChapterInput
	for i, chapter := range book.Chapters {
		num := i + 1

		if ctx.Err() != nil {
			w.logger.Info("worker stopping, leaving job mid-flight", "id", job.ID)
			return ctx.Err()
		}
		if w.health.QueuePaused() {
			w.logger.Info("queue paused, stopping after current chapter", "id", job.ID)
			return w.store.UpdateProgress(job.ID, store.StatusPending, num-1)
		}

		w.bus.Publish(events.Event{
			Type:  events.TypeChapterStarted,
			JobID: job.ID,
			Title: chapter.Title,
			Data:  map[string]any{"chapter": num, "total": chapterCount},
		})

		wavPath := filepath.Join(tmpDir, fmt.Sprintf("chapter_%03d.wav", num))
		err := w.synthesizer.SynthesizeChapter(ctx, tts.ChapterRequest{
			Title:         chapter.Title,
			Text:          chapter.Text,
			Voice:         job.Voice,
			OutputPath:    wavPath,
			ChapterNum:    num,
			TotalChapters: chapterCount,
		})
		if err != nil {
			return err
		}
		wavs = append(wavs, m4b.ChapterInput{Title: chapter.Title, WAVPath: wavPath})

		if err := w.store.UpdateProgress(job.ID, store.StatusSynthesizing, num); err != nil {
			return err
		}
		w.bus.Publish(events.Event{
			Type:  events.TypeChapterCompleted,
			JobID: job.ID,
			Data:  map[string]any{"chapter": num, "total": chapterCount},
		})
	}

	if err := w.store.UpdateProgress(job.ID, store.StatusBuilding, chapterCount); err != nil {
		return err
	}

	meta := m4b.Metadata{
		Title:       book.Metadata.Title,
		Author:      book.Metadata.Author,
		Date:        book.Metadata.Date,
		Description: book.Metadata.Description,
	}
	m4bPath, err := w.builder.Build(ctx, wavs, meta, book.Cover, tmpDir)
	if err != nil {
		return err
	}
	validation, err := w.builder.Validate(ctx, m4bPath, chapterCount)
	if err != nil {
		return err
	}

	outMeta := output.BookMeta{
		Title:       book.Metadata.Title,
		Author:      book.Metadata.Author,
		Description: book.Metadata.Description,
	}
	if job.Series != nil {
		outMeta.Series = *job.Series
	}
	bookDir, err := w.writer.Write(m4bPath, outMeta, book.Cover, job.Voice)
	if err != nil {
		return err
	}

	err = w.store.CompleteJob(job.ID, bookDir, validation.DurationMS/1000, validation.SizeBytes)
	if err != nil {
		return err
	}
	if rerr := os.RemoveAll(tmpDir); rerr != nil {
		w.logger.Warn("failed to remove job workspace", "id", job.ID, "error", rerr)
	}
	w.bus.Publish(events.Event{
		Type:  events.TypeJobCompleted,
		JobID: job.ID,
		Title: job.Title,
		Data:  map[string]any{"output_path": bookDir},
	})
	w.logger.Info("job complete", "id", job.ID, "output", bookDir)

	if done, gerr := w.store.GetJob(job.ID); gerr == nil && w.notifier != nil {
		w.notifier.JobCompleted(ctx, done)
	}
	return nil
}

// jobWorkspace is the scratch directory for a job's chapter WAVs. It is
// deterministic per job so a paused or interrupted job finds its
// already-synthesized chapters on the next run.
func (w *Worker) jobWorkspace(jobID int64) string {
	return filepath.Join(w.tempRoot, fmt.Sprintf("narrator-job-%d", jobID))
}

// EpubExtractor adapts the epub package to the Extractor interface.
type EpubExtractor struct {
	Logger *slog.Logger
}

func (e EpubExtractor) Extract(path string) (*epub.Book, error) {
	return epub.Extract(path, e.Logger)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
