// Package scan periodically sweeps the library and enqueues books that
// have not been converted yet.
package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/narrator/internal/library"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/store"
)

const (
	idleInterval        = 60 * time.Second
	defaultScanInterval = 300
)

// Watcher auto-enqueues unconverted library books when the auto_convert
// setting is on.
type Watcher struct {
	reader   library.Reader
	store    *store.Store
	settings *store.Settings
	writer   *output.Writer
	logger   *slog.Logger
}

// NewWatcher creates a library watcher.
func NewWatcher(reader library.Reader, st *store.Store, settings *store.Settings, writer *output.Writer, logger *slog.Logger) *Watcher {
	return &Watcher{
		reader:   reader,
		store:    st,
		settings: settings,
		writer:   writer,
		logger:   logger.With("component", "scan"),
	}
}

// Run loops until the context is cancelled. While auto_convert is off it
// re-checks the setting every minute; otherwise it sweeps the library
// every auto_scan_interval seconds.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if !w.settings.GetBool("auto_convert") {
			if !sleep(ctx, idleInterval) {
				return
			}
			continue
		}

		interval := w.settings.GetInt("auto_scan_interval", defaultScanInterval)
		if interval <= 0 {
			interval = defaultScanInterval
		}
		if !sleep(ctx, time.Duration(interval)*time.Second) {
			return
		}

		if err := w.sweep(); err != nil {
			w.logger.Error("auto-scan failed", "error", err)
			if !sleep(ctx, idleInterval) {
				return
			}
		}
	}
}

// sweep enqueues every library book that has no live job and no existing
// output.
func (w *Watcher) sweep() error {
	w.logger.Info("auto-scan: checking for new books")
	voice := w.settings.Get("default_voice")

	books, err := w.reader.ListBooks()
	if err != nil {
		return err
	}

	queued := 0
	for _, book := range books {
		dup, err := w.store.IsDuplicate(book.ID)
		if err != nil {
			return err
		}
		if dup {
			continue
		}

		meta := output.BookMeta{Title: book.Title, Author: book.Author}
		if book.Series != nil {
			meta.Series = *book.Series
		}
		if w.writer.AlreadyExists(meta) {
			continue
		}

		sourcePath, err := w.reader.SourcePath(book)
		if err != nil {
			w.logger.Warn("skipping book without source file",
				"book_id", book.ID, "title", book.Title, "error", err)
			continue
		}

		_, err = w.store.Enqueue(store.EnqueueParams{
			LibraryBookID: book.ID,
			Title:         book.Title,
			Author:        book.Author,
			Series:        book.Series,
			SeriesIndex:   book.SeriesIndex,
			Voice:         voice,
			SourcePath:    sourcePath,
		})
		if err != nil {
			return err
		}
		queued++
	}

	if queued > 0 {
		w.logger.Info("auto-scan: queued new books", "count", queued)
	}
	return nil
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
