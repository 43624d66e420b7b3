package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "narrator.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, s *Store, bookID int64, title string) *Job {
	t.Helper()
	job, err := s.Enqueue(EnqueueParams{
		LibraryBookID: bookID,
		Title:         title,
		Author:        "Test Author",
		Voice:         "af_heart",
		SourcePath:    "/library/" + title + ".epub",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestEnqueue(t *testing.T) {
	s := testStore(t)

	j1 := enqueueTestJob(t, s, 1, "First Book")
	j2 := enqueueTestJob(t, s, 2, "Second Book")

	if j1.Status != StatusPending {
		t.Fatalf("expected pending, got %s", j1.Status)
	}
	if j1.QueuePosition == nil || *j1.QueuePosition != 1 {
		t.Fatalf("expected queue position 1, got %v", j1.QueuePosition)
	}
	if j2.QueuePosition == nil || *j2.QueuePosition != 2 {
		t.Fatalf("expected queue position 2, got %v", j2.QueuePosition)
	}
	if j1.CreatedAt == nil {
		t.Fatal("expected created_at to be set")
	}
}

func TestIsDuplicate(t *testing.T) {
	s := testStore(t)
	job := enqueueTestJob(t, s, 7, "Dup Book")

	dup, err := s.IsDuplicate(7)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected pending job to count as duplicate")
	}

	if dup, _ := s.IsDuplicate(99); dup {
		t.Fatal("unknown book should not be a duplicate")
	}

	// A failed job frees the book for re-conversion.
	if err := s.FailJob(job.ID, "tts exploded"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if dup, _ := s.IsDuplicate(7); dup {
		t.Fatal("failed job should not count as duplicate")
	}
}

func TestNextPending(t *testing.T) {
	s := testStore(t)

	if job, err := s.NextPending(); err != nil || job != nil {
		t.Fatalf("expected empty queue, got %v, %v", job, err)
	}

	j1 := enqueueTestJob(t, s, 1, "First")
	j2 := enqueueTestJob(t, s, 2, "Second")
	j3 := enqueueTestJob(t, s, 3, "Third")

	// Move the third job to the front.
	if err := s.Reorder([]int64{j3.ID, j1.ID, j2.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	next, err := s.NextPending()
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next.ID != j3.ID {
		t.Fatalf("expected job %d first, got %d", j3.ID, next.ID)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := testStore(t)
	job := enqueueTestJob(t, s, 1, "Lifecycle Book")

	if err := s.StartJob(job.ID, StatusExtracting, 0); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	got, _ := s.GetJob(job.ID)
	if got.Status != StatusExtracting {
		t.Fatalf("expected extracting, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
	if got.QueuePosition != nil {
		t.Fatal("expected queue position cleared on start")
	}
	firstStart := *got.StartedAt

	if err := s.StartJob(job.ID, StatusSynthesizing, 12); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	got, _ = s.GetJob(job.ID)
	if got.ChaptersTotal != 12 {
		t.Fatalf("expected 12 chapters, got %d", got.ChaptersTotal)
	}
	if *got.StartedAt != firstStart {
		t.Fatal("started_at should not change on later transitions")
	}

	if err := s.UpdateProgress(job.ID, StatusSynthesizing, 5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ = s.GetJob(job.ID)
	if got.ChaptersDone != 5 {
		t.Fatalf("expected 5 chapters done, got %d", got.ChaptersDone)
	}

	if err := s.CompleteJob(job.ID, "/output/book.m4b", 3600, 52_000_000); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, _ = s.GetJob(job.ID)
	if got.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", got.Status)
	}
	if got.OutputPath == nil || *got.OutputPath != "/output/book.m4b" {
		t.Fatalf("unexpected output path %v", got.OutputPath)
	}
	if got.DurationSec == nil || *got.DurationSec != 3600 {
		t.Fatalf("unexpected duration %v", got.DurationSec)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetJob(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	s := testStore(t)

	t.Run("pending job is failed", func(t *testing.T) {
		job := enqueueTestJob(t, s, 1, "Cancel Me")
		if err := s.CancelJob(job.ID); err != nil {
			t.Fatalf("CancelJob: %v", err)
		}
		got, _ := s.GetJob(job.ID)
		if got.Status != StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if got.ErrorMessage == nil || *got.ErrorMessage != "Cancelled by user" {
			t.Fatalf("unexpected error message %v", got.ErrorMessage)
		}
	})

	t.Run("terminal job untouched", func(t *testing.T) {
		job := enqueueTestJob(t, s, 2, "Done Already")
		if err := s.CompleteJob(job.ID, "/output/done.m4b", 60, 1024); err != nil {
			t.Fatal(err)
		}
		if err := s.CancelJob(job.ID); err != nil {
			t.Fatalf("CancelJob: %v", err)
		}
		got, _ := s.GetJob(job.ID)
		if got.Status != StatusComplete {
			t.Fatalf("cancel changed terminal status to %s", got.Status)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		if err := s.CancelJob(404); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRetryJob(t *testing.T) {
	s := testStore(t)

	failed := enqueueTestJob(t, s, 1, "Flaky Book")
	if err := s.StartJob(failed.ID, StatusSynthesizing, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProgress(failed.ID, StatusSynthesizing, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.FailJob(failed.ID, "network blip"); err != nil {
		t.Fatal(err)
	}
	waiting := enqueueTestJob(t, s, 2, "Waiting Book")

	job, err := s.RetryJob(failed.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.ErrorMessage != nil {
		t.Fatalf("expected error cleared, got %v", *job.ErrorMessage)
	}
	if job.ChaptersDone != 0 {
		t.Fatalf("expected progress reset, got %d", job.ChaptersDone)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Fatal("expected timestamps reset")
	}
	// Retried jobs go to the back of the queue.
	if job.QueuePosition == nil || *job.QueuePosition <= *waiting.QueuePosition {
		t.Fatalf("expected retry behind position %d, got %v", *waiting.QueuePosition, job.QueuePosition)
	}

	t.Run("non-failed job conflicts", func(t *testing.T) {
		if _, err := s.RetryJob(waiting.ID); !errors.Is(err, ErrStateConflict) {
			t.Fatalf("expected ErrStateConflict, got %v", err)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		if _, err := s.RetryJob(404); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestReorder_SkipsNonPending(t *testing.T) {
	s := testStore(t)

	active := enqueueTestJob(t, s, 1, "Active")
	if err := s.StartJob(active.ID, StatusSynthesizing, 5); err != nil {
		t.Fatal(err)
	}
	pending := enqueueTestJob(t, s, 2, "Pending")

	if err := s.Reorder([]int64{active.ID, pending.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	got, _ := s.GetJob(active.ID)
	if got.QueuePosition != nil {
		t.Fatal("reorder should not touch active jobs")
	}
	got, _ = s.GetJob(pending.ID)
	if got.QueuePosition == nil || *got.QueuePosition != 2 {
		t.Fatalf("expected position 2, got %v", got.QueuePosition)
	}
}

func TestGetResumable(t *testing.T) {
	s := testStore(t)

	enqueueTestJob(t, s, 1, "Still Pending")
	mid := enqueueTestJob(t, s, 2, "Mid Flight")
	if err := s.StartJob(mid.ID, StatusSynthesizing, 8); err != nil {
		t.Fatal(err)
	}
	done := enqueueTestJob(t, s, 3, "Finished")
	if err := s.CompleteJob(done.ID, "/output/f.m4b", 10, 10); err != nil {
		t.Fatal(err)
	}

	resumable, err := s.GetResumable()
	if err != nil {
		t.Fatalf("GetResumable: %v", err)
	}
	if len(resumable) != 1 || resumable[0].ID != mid.ID {
		t.Fatalf("expected only the mid-flight job, got %#v", resumable)
	}
}

func TestListAndCountJobs(t *testing.T) {
	s := testStore(t)

	for i := int64(1); i <= 5; i++ {
		enqueueTestJob(t, s, i, "Book")
	}
	failed := enqueueTestJob(t, s, 6, "Bad Book")
	if err := s.FailJob(failed.ID, "boom"); err != nil {
		t.Fatal(err)
	}

	total, err := s.CountJobs("")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 jobs, got %d", total)
	}
	if n, _ := s.CountJobs(StatusFailed); n != 1 {
		t.Fatalf("expected 1 failed job, got %d", n)
	}

	page, err := s.ListJobs("", 2, 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 4 {
		t.Fatalf("unexpected page %#v", page)
	}

	pending, err := s.ListJobs(StatusPending, 0, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("expected 5 pending jobs, got %d", len(pending))
	}
}

func TestQueueSummary(t *testing.T) {
	s := testStore(t)

	summary, err := s.QueueSummary()
	if err != nil {
		t.Fatalf("QueueSummary: %v", err)
	}
	// Every status is present even on an empty database.
	for _, st := range []JobStatus{
		StatusPending, StatusExtracting, StatusSynthesizing,
		StatusBuilding, StatusComplete, StatusFailed,
	} {
		if _, ok := summary[st]; !ok {
			t.Fatalf("summary missing status %s", st)
		}
	}

	enqueueTestJob(t, s, 1, "One")
	enqueueTestJob(t, s, 2, "Two")
	failed := enqueueTestJob(t, s, 3, "Three")
	if err := s.FailJob(failed.ID, "boom"); err != nil {
		t.Fatal(err)
	}

	summary, err = s.QueueSummary()
	if err != nil {
		t.Fatalf("QueueSummary: %v", err)
	}
	if summary[StatusPending] != 2 || summary[StatusFailed] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}
