package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/birrulwldain/jobwrap/internal/report"
)

// Entry is one recorded invocation
type Entry struct {
	JobName string           `json:"job_name"`
	Outcome report.Outcome   `json:"outcome"`
	Result  report.RunResult `json:"result"`
}

// Ledger is a local SQLite history of runs
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the ledger database at path
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	// WAL and a busy timeout: several jobs on one node may share a ledger
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		job_name TEXT NOT NULL,
		workload TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		termination TEXT NOT NULL,
		signal TEXT,
		start_error TEXT,
		max_rss_kib INTEGER NOT NULL DEFAULT 0,
		user_ms INTEGER NOT NULL DEFAULT 0,
		system_ms INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Record appends one run
func (l *Ledger) Record(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := e.Result
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, job_id, job_name, workload, pid, started_at, ended_at, duration_ms,
		 exit_code, termination, signal, start_error, max_rss_kib, user_ms, system_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.JobID, e.JobName, r.Workload, r.PID, r.StartTime.UTC(), r.EndTime.UTC(),
		r.Duration.Milliseconds(), r.ExitCode, string(r.Termination), r.Signal, r.StartError,
		r.MaxRSSKiB, r.UserTime.Milliseconds(), r.SystemTime.Milliseconds(), string(e.Outcome))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns the most recent runs first. limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := `
		SELECT run_id, job_id, job_name, workload, pid, started_at, ended_at, duration_ms,
		       exit_code, termination, signal, start_error, max_rss_kib, user_ms, system_ms, outcome
		FROM runs
		ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e                            Entry
			termination, outcome         string
			signal, startError           sql.NullString
			durationMs, userMs, systemMs int64
		)
		err := rows.Scan(&e.Result.RunID, &e.Result.JobID, &e.JobName, &e.Result.Workload,
			&e.Result.PID, &e.Result.StartTime, &e.Result.EndTime, &durationMs,
			&e.Result.ExitCode, &termination, &signal, &startError, &e.Result.MaxRSSKiB,
			&userMs, &systemMs, &outcome)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		e.Result.Duration = time.Duration(durationMs) * time.Millisecond
		e.Result.UserTime = time.Duration(userMs) * time.Millisecond
		e.Result.SystemTime = time.Duration(systemMs) * time.Millisecond
		e.Result.Termination = report.Termination(termination)
		e.Result.Signal = signal.String
		e.Result.StartError = startError.String
		e.Outcome = report.Outcome(outcome)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}
