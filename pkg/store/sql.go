package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/exitshim/internal/report"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Driver string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
}

var (
	SQLite   = Dialect{Driver: "sqlite3"}
	Postgres = Dialect{Driver: "postgres", Numbered: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS iterations (
	run_id TEXT NOT NULL,
	iteration BIGINT NOT NULL,
	entry TEXT NOT NULL,
	input_id TEXT NOT NULL,
	input_sha256 TEXT NOT NULL,
	argv TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status BIGINT NOT NULL,
	panic TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMP NOT NULL,
	duration_ns BIGINT NOT NULL,
	rss_bytes BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, iteration)
);

CREATE INDEX IF NOT EXISTS idx_iterations_outcome ON iterations(run_id, outcome, status);
`

// SQLStore is a database/sql implementation of Store
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteStore creates a SQLite store at dbPath
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	// - _journal_mode=WAL: readers (stats) don't block the harness writer
	// - _busy_timeout=10000: wait up to 10 seconds when database is locked
	// - _synchronous=NORMAL: an interrupted run may lose its last iterations
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open(SQLite.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(db, SQLite)
}

// NewPostgresStore creates a PostgreSQL store from a libpq DSN or URL
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}
	db, err := sql.Open(Postgres.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, Postgres)
}

func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Save records one iteration
func (s *SQLStore) Save(r *report.Result) error {
	argv, err := json.Marshal(r.Argv)
	if err != nil {
		return fmt.Errorf("failed to marshal argv: %w", err)
	}

	_, err = s.db.Exec(s.dialect.rebind(`
		INSERT INTO iterations
		(run_id, iteration, entry, input_id, input_sha256, argv, outcome, status,
		 panic, intent, start_time, duration_ns, rss_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.RunID, int64(r.Iteration), r.Entry, r.InputID, r.InputSHA256, string(argv),
		string(r.Outcome), r.Status, r.Panic, r.Intent, r.StartTime.UTC(),
		int64(r.Duration), int64(r.RSSBytes))
	if err != nil {
		return fmt.Errorf("failed to save run %s iteration %d: %w", r.RunID, r.Iteration, err)
	}
	return nil
}

// List returns results of a run, newest first
func (s *SQLStore) List(runID string, limit int) ([]*report.Result, error) {
	query := `
		SELECT run_id, iteration, entry, input_id, input_sha256, argv, outcome, status,
		       panic, intent, start_time, duration_ns, rss_bytes
		FROM iterations WHERE run_id = ? ORDER BY iteration DESC`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []*report.Result
	for rows.Next() {
		var (
			r         report.Result
			iteration int64
			argv      string
			outcome   string
			duration  int64
			rss       int64
		)
		if err := rows.Scan(&r.RunID, &iteration, &r.Entry, &r.InputID, &r.InputSHA256, &argv,
			&outcome, &r.Status, &r.Panic, &r.Intent, &r.StartTime, &duration, &rss); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal([]byte(argv), &r.Argv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal argv: %w", err)
		}
		r.Iteration = uint64(iteration)
		r.Outcome = report.Outcome(outcome)
		r.Duration = time.Duration(duration)
		r.EndTime = r.StartTime.Add(r.Duration)
		r.RSSBytes = uint64(rss)
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CountByStatus groups a run's results by outcome and status
func (s *SQLStore) CountByStatus(runID string) ([]report.StatusCount, error) {
	rows, err := s.db.Query(s.dialect.rebind(`
		SELECT outcome, status, COUNT(*) FROM iterations
		WHERE run_id = ? AND outcome <> ?
		GROUP BY outcome, status
	`), runID, string(report.OutcomeCrash))
	if err != nil {
		return nil, fmt.Errorf("failed to count run %s: %w", runID, err)
	}
	defer rows.Close()

	var counts []report.StatusCount
	for rows.Next() {
		var (
			sc      report.StatusCount
			outcome string
		)
		if err := rows.Scan(&outcome, &sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		sc.Outcome = report.Outcome(outcome)
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortStatusCounts(counts)
	return counts, nil
}

// Runs lists run IDs in the order they started
func (s *SQLStore) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM iterations GROUP BY run_id ORDER BY MIN(start_time), run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// DeleteBefore removes iterations that started before cutoff
func (s *SQLStore) DeleteBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(s.dialect.rebind(`DELETE FROM iterations WHERE start_time < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete iterations: %w", err)
	}
	return res.RowsAffected()
}

// Vacuum reclaims space after large deletes
func (s *SQLStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
