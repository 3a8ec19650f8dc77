package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/psantana5/exitshim/pkg/retry"
)

// Open selects a store from a DSN:
//
//	"" or memory://          in-memory
//	sqlite://path, *.db      SQLite file
//	postgres://, postgresql:// PostgreSQL
//
// Connecting is retried with backoff so a database that is still starting
// does not fail the run.
func Open(ctx context.Context, dsn string) (Store, error) {
	var open func() (Store, error)

	switch {
	case dsn == "" || dsn == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		open = func() (Store, error) { return NewSQLiteStore(path) }
	case strings.HasSuffix(dsn, ".db") && !strings.Contains(dsn, "://"):
		open = func() (Store, error) { return NewSQLiteStore(dsn) }
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		open = func() (Store, error) { return NewPostgresStore(dsn) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
	}

	var s Store
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		s, err = open()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
