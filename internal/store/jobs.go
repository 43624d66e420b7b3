package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusExtracting   JobStatus = "extracting"
	StatusSynthesizing JobStatus = "synthesizing"
	StatusBuilding     JobStatus = "building"
	StatusComplete     JobStatus = "complete"
	StatusFailed       JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is a durable conversion job record.
type Job struct {
	ID            int64     `json:"id"`
	LibraryBookID int64     `json:"library_book_id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Series        *string   `json:"series,omitempty"`
	SeriesIndex   *float64  `json:"series_index,omitempty"`
	Voice         string    `json:"voice"`
	Status        JobStatus `json:"status"`
	ChaptersTotal int       `json:"chapters_total"`
	ChaptersDone  int       `json:"chapters_done"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	SourcePath    string    `json:"source_path"`
	OutputPath    *string   `json:"output_path,omitempty"`
	QueuePosition *int64    `json:"queue_position,omitempty"`
	DurationSec   *int64    `json:"duration_seconds,omitempty"`
	FileSizeBytes *int64    `json:"file_size_bytes,omitempty"`
	CreatedAt     *string   `json:"created_at,omitempty"`
	StartedAt     *string   `json:"started_at,omitempty"`
	CompletedAt   *string   `json:"completed_at,omitempty"`
}

// EnqueueParams describes the book a new job converts.
type EnqueueParams struct {
	LibraryBookID int64
	Title         string
	Author        string
	Series        *string
	SeriesIndex   *float64
	Voice         string
	SourcePath    string
}

const jobColumns = `id, library_book_id, title, author, series, series_index,
	voice, status, chapters_total, chapters_done, error_message, source_path,
	output_path, queue_position, duration_seconds, file_size_bytes,
	created_at, started_at, completed_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Enqueue inserts a new pending job at the back of the queue.
// Callers are expected to check IsDuplicate first.
func (s *Store) Enqueue(p EnqueueParams) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin enqueue: %w", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	err = tx.QueryRow(
		`SELECT MAX(queue_position) FROM jobs WHERE status = ?`, StatusPending,
	).Scan(&maxPos)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue tail: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO jobs (library_book_id, title, author, series, series_index,
			voice, source_path, queue_position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.LibraryBookID, p.Title, p.Author, p.Series, p.SeriesIndex,
		p.Voice, p.SourcePath, maxPos.Int64+1, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read job id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	s.logger.Info("enqueued job", "id", id, "title", p.Title, "author", p.Author)
	return s.GetJob(id)
}

// IsDuplicate reports whether any non-failed job exists for the book.
func (s *Store) IsDuplicate(libraryBookID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE library_book_id = ? AND status != ?`,
		libraryBookID, StatusFailed,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return n > 0, nil
}

// NextPending returns the pending job with the smallest effective queue
// position, or nil if the queue is empty.
func (s *Store) NextPending() (*Job, error) {
	row := s.db.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ?
		 ORDER BY COALESCE(queue_position, id) LIMIT 1`, StatusPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next pending job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(id int64) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %d: %w", id, err)
	}
	return job, nil
}

// StartJob transitions a job into a processing phase. started_at is set
// only on the first transition out of pending.
func (s *Store) StartJob(id int64, status JobStatus, chaptersTotal int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, chapters_total = ?,
			started_at = COALESCE(started_at, ?),
			queue_position = NULL
		 WHERE id = ?`,
		status, chaptersTotal, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to start job %d: %w", id, err)
	}
	return nil
}

// UpdateProgress records per-chapter progress during synthesis or build.
func (s *Store) UpdateProgress(id int64, status JobStatus, chaptersDone int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, chapters_done = ? WHERE id = ?`,
		status, chaptersDone, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %d progress: %w", id, err)
	}
	return nil
}

// CompleteJob records the terminal success state with output stats.
func (s *Store) CompleteJob(id int64, outputPath string, durationSec, fileSizeBytes int64) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, output_path = ?, duration_seconds = ?,
			file_size_bytes = ?, completed_at = ? WHERE id = ?`,
		StatusComplete, outputPath, durationSec, fileSizeBytes, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	s.logger.Info("job completed", "id", id, "output", outputPath)
	return nil
}

// FailJob records the terminal failure state.
func (s *Store) FailJob(id int64, errorMessage string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, errorMessage, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", id, err)
	}
	s.logger.Error("job failed", "id", id, "error", errorMessage)
	return nil
}

// CancelJob fails a non-terminal job with a cancellation message.
// Terminal jobs are left untouched.
func (s *Store) CancelJob(id int64) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	return s.FailJob(id, "Cancelled by user")
}

// RetryJob re-queues a failed job at the back of the queue.
func (s *Store) RetryJob(id int64) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin retry: %w", err)
	}
	defer tx.Rollback()

	var status JobStatus
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %d: %w", id, err)
	}
	if status != StatusFailed {
		return nil, fmt.Errorf("job %d is %s: %w", id, status, ErrStateConflict)
	}

	var maxPos sql.NullInt64
	err = tx.QueryRow(
		`SELECT MAX(queue_position) FROM jobs WHERE status = ?`, StatusPending,
	).Scan(&maxPos)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue tail: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE jobs SET status = ?, error_message = NULL, chapters_done = 0,
			started_at = NULL, completed_at = NULL, queue_position = ?
		 WHERE id = ?`,
		StatusPending, maxPos.Int64+1, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retry job %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit retry: %w", err)
	}

	s.logger.Info("job re-queued", "id", id)
	return s.GetJob(id)
}

// Reorder assigns 1-based queue positions to the given pending jobs in
// order. Ids that are missing or not pending are skipped.
func (s *Store) Reorder(jobIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reorder: %w", err)
	}
	defer tx.Rollback()

	for i, id := range jobIDs {
		_, err := tx.Exec(
			`UPDATE jobs SET queue_position = ? WHERE id = ? AND status = ?`,
			i+1, id, StatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to reorder job %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetResumable returns jobs that were mid-flight when the process died.
func (s *Store) GetResumable() ([]Job, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?, ?) ORDER BY id`,
		StatusExtracting, StatusSynthesizing, StatusBuilding,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resumable jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs, optionally filtered by status.
func (s *Store) CountJobs(status JobStatus) (int, error) {
	var (
		n   int
		err error
	)
	if status == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// ListJobs returns jobs ordered by id, optionally filtered by status.
// limit <= 0 means no limit.
func (s *Store) ListJobs(status JobStatus, limit, offset int) ([]Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM jobs`)
	args := []any{}
	if status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, status)
	}
	sb.WriteString(` ORDER BY id`)
	if limit > 0 {
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// QueueSummary reports job counts per status.
func (s *Store) QueueSummary() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize queue: %w", err)
	}
	defer rows.Close()

	summary := map[JobStatus]int{
		StatusPending: 0, StatusExtracting: 0, StatusSynthesizing: 0,
		StatusBuilding: 0, StatusComplete: 0, StatusFailed: 0,
	}
	for rows.Next() {
		var (
			st JobStatus
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary[st] = n
	}
	return summary, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j      Job
		source sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.LibraryBookID, &j.Title, &j.Author, &j.Series, &j.SeriesIndex,
		&j.Voice, &j.Status, &j.ChaptersTotal, &j.ChaptersDone, &j.ErrorMessage,
		&source, &j.OutputPath, &j.QueuePosition, &j.DurationSec,
		&j.FileSizeBytes, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.SourcePath = source.String
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
