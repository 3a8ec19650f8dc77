package store

import (
	"errors"
	"time"

	"github.com/psantana5/exitshim/internal/report"
)

var ErrUnsupportedDSN = errors.New("unsupported store DSN")

// Store persists iteration results so interceptions can be traced back to
// the input that caused them after the run.
// MemoryStore and SQLStore (SQLite, PostgreSQL) implement it.
type Store interface {
	// Save records one iteration. A run/iteration pair is saved once.
	Save(r *report.Result) error
	// List returns results of a run, newest iteration first. limit <= 0
	// returns all of them.
	List(runID string, limit int) ([]*report.Result, error)
	// CountByStatus groups the non-crash results of a run by outcome and status.
	CountByStatus(runID string) ([]report.StatusCount, error)
	// Runs lists run IDs in the order they started.
	Runs() ([]string, error)
	// DeleteBefore removes iterations that started before cutoff and
	// returns how many were removed.
	DeleteBefore(cutoff time.Time) (int64, error)
	Close() error
}
