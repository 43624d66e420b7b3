package store

import "fmt"

const schemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS jobs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    library_book_id INTEGER UNIQUE NOT NULL,
    title           TEXT NOT NULL,
    author          TEXT NOT NULL,
    series          TEXT,
    series_index    REAL,
    voice           TEXT NOT NULL DEFAULT 'af_heart',
    status          TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','extracting','synthesizing','building','complete','failed')),
    chapters_total  INTEGER DEFAULT 0,
    chapters_done   INTEGER DEFAULT 0,
    error_message   TEXT,
    source_path     TEXT,
    output_path     TEXT,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    started_at      TIMESTAMP,
    completed_at    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// schemaV2 adds queue ordering and output stats, and lifts the
// UNIQUE(library_book_id) constraint so failed books can be re-enqueued.
// SQLite cannot drop a constraint in place, so the table is rebuilt.
const schemaV2 = `
CREATE TABLE jobs_v2 (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    library_book_id INTEGER NOT NULL,
    title           TEXT NOT NULL,
    author          TEXT NOT NULL,
    series          TEXT,
    series_index    REAL,
    voice           TEXT NOT NULL DEFAULT 'af_heart',
    status          TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','extracting','synthesizing','building','complete','failed')),
    chapters_total  INTEGER DEFAULT 0,
    chapters_done   INTEGER DEFAULT 0,
    error_message   TEXT,
    source_path     TEXT,
    output_path     TEXT,
    queue_position  INTEGER,
    duration_seconds INTEGER,
    file_size_bytes INTEGER,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    started_at      TIMESTAMP,
    completed_at    TIMESTAMP
);

INSERT INTO jobs_v2 (id, library_book_id, title, author, series, series_index,
    voice, status, chapters_total, chapters_done, error_message, source_path,
    output_path, created_at, started_at, completed_at)
SELECT id, library_book_id, title, author, series, series_index,
    voice, status, chapters_total, chapters_done, error_message, source_path,
    output_path, created_at, started_at, completed_at
FROM jobs;

DROP TABLE jobs;
ALTER TABLE jobs_v2 RENAME TO jobs;
`

// migrate brings the schema forward to the current version.
func (s *Store) migrate() error {
	current := s.currentVersion()
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if current < 1 {
		s.logger.Info("initializing database schema", "version", 1)
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("schema v1 failed: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		current = 1
	}

	if current < 2 {
		s.logger.Info("migrating database schema", "version", 2)
		if _, err := tx.Exec(schemaV2); err != nil {
			return fmt.Errorf("schema v2 failed: %w", err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = 2"); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) currentVersion() int {
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil {
		return 0
	}
	return v
}
