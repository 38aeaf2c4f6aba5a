// Package historydb records the outcome of each completed job in a small
// embedded SQL database, independent of the incompressible-file store
// (SPEC_FULL.md §2 expansion, component 9).
package historydb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halvarsen/compactd/internal/job"
	"github.com/halvarsen/compactd/internal/summary"
)

// Record is one row: a completed job's root, kind, timing, terminal event
// and final summary (SPEC_FULL.md §3 expansion's JobRecord).
type Record struct {
	ID            int64
	RunID         string
	Root          string
	Job           job.Kind
	StartedAt     time.Time
	FinishedAt    time.Time
	TerminalEvent string
	Summary       summary.Snapshot
}

// DB wraps the sqlite-backed job-history table.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists. modernc.org/sqlite is a pure-Go driver, so no
// cgo toolchain is required to run the engine.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sql: sqlDB}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS job_runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT    NOT NULL,
	root           TEXT    NOT NULL,
	job            TEXT    NOT NULL,
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER NOT NULL,
	terminal_event TEXT    NOT NULL,
	summary_json   TEXT    NOT NULL
);
`

// Insert records one completed job. The final FolderSummary is stored as
// its JSON serialization, matching the wire shape in spec.md §6.
func (d *DB) Insert(r Record) (int64, error) {
	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return 0, err
	}
	res, err := d.sql.Exec(
		`INSERT INTO job_runs (run_id, root, job, started_at, finished_at, terminal_event, summary_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Root, string(r.Job), r.StartedAt.Unix(), r.FinishedAt.Unix(), r.TerminalEvent, string(summaryJSON),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LastForRoot returns the most recently finished run for root, if any.
func (d *DB) LastForRoot(root string) (Record, bool, error) {
	row := d.sql.QueryRow(
		`SELECT id, run_id, root, job, started_at, finished_at, terminal_event, summary_json
		 FROM job_runs WHERE root = ? ORDER BY finished_at DESC LIMIT 1`,
		root,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Recent returns the n most recently finished runs across all roots.
func (d *DB) Recent(n int) ([]Record, error) {
	rows, err := d.sql.Query(
		`SELECT id, run_id, root, job, started_at, finished_at, terminal_event, summary_json
		 FROM job_runs ORDER BY finished_at DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec         Record
		jobStr      string
		started     int64
		finished    int64
		summaryJSON string
	)
	if err := s.Scan(&rec.ID, &rec.RunID, &rec.Root, &jobStr, &started, &finished, &rec.TerminalEvent, &summaryJSON); err != nil {
		return Record{}, err
	}
	rec.Job = job.Kind(jobStr)
	rec.StartedAt = time.Unix(started, 0)
	rec.FinishedAt = time.Unix(finished, 0)
	if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
		return Record{}, fmt.Errorf("historydb: decoding stored summary: %w", err)
	}
	return rec, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}
