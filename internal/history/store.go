// Package history persists clipboard entries in SQLite.
//
// A Store serializes every operation behind one mutex so the listener, the
// activation server and maintenance never interleave. Inserts enforce the
// entry cap and periodically drop unpinned entries past the retention window.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"go.klb.dev/clipkeep/internal/history/migrations"
)

var (
	// ErrNotFound is returned when no entry has the requested id.
	ErrNotFound = errors.New("history: entry not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("history: store closed")

	errCorrupt = errors.New("history: database corrupt")
)

// Options configures a Store. Zero fields take the DefaultOptions values.
type Options struct {
	MaxEntries       int
	MaxContentLength int
	ExpireAfter      time.Duration
	ExpireInterval   time.Duration
	BusyTimeout      time.Duration
	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		MaxEntries:       500,
		MaxContentLength: 50000,
		ExpireAfter:      30 * 24 * time.Hour,
		ExpireInterval:   time.Hour,
		BusyTimeout:      3 * time.Second,
		Now:              time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxEntries <= 0 {
		o.MaxEntries = d.MaxEntries
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = d.MaxContentLength
	}
	if o.ExpireAfter <= 0 {
		o.ExpireAfter = d.ExpireAfter
	}
	if o.ExpireInterval <= 0 {
		o.ExpireInterval = d.ExpireInterval
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = d.BusyTimeout
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Store is the clipboard history.
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	path       string
	opts       Options
	lastExpire time.Time
	closed     bool
	log        *slog.Logger
}

// Open opens or creates the store at path, runs migrations and expires stale
// entries. A file that is not a database or fails the integrity check is
// deleted together with its WAL and shared-memory files and recreated empty.
// Other failures, such as a file locked by another process, are returned.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	s := &Store{
		path: path,
		opts: opts.withDefaults(),
		log:  slog.Default().With("component", "history"),
	}

	db, err := s.openDB(ctx)
	if err != nil {
		if inMemory(path) || !errors.Is(err, errCorrupt) {
			return nil, err
		}
		s.log.Warn("history store corrupt, recreating", "path", path, "err", err)
		if rmErr := removeFiles(path); rmErr != nil {
			return nil, fmt.Errorf("remove corrupt store: %w", rmErr)
		}
		if db, err = s.openDB(ctx); err != nil {
			return nil, err
		}
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	now := s.opts.Now()
	if _, err := s.expire(ctx, s.db, now.Add(-s.opts.ExpireAfter)); err != nil {
		s.log.Warn("expire on open", "err", err)
	}
	s.lastExpire = now
	return s, nil
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	// One connection keeps ":memory:" a single database and matches the
	// store-wide mutex.
	db.SetMaxOpenConns(1)

	fail := func(err error) (*sql.DB, error) {
		_ = db.Close()
		return nil, classify(err)
	}

	// busy_timeout first so the integrity check waits out a writer.
	busy := fmt.Sprintf("PRAGMA busy_timeout = %d", s.opts.BusyTimeout.Milliseconds())
	if _, err := db.ExecContext(ctx, busy); err != nil {
		return fail(fmt.Errorf("%s: %w", busy, err))
	}
	if err := checkIntegrity(ctx, db); err != nil {
		return fail(err)
	}
	if !inMemory(s.path) {
		for _, p := range []string{"PRAGMA journal_mode = WAL", "PRAGMA wal_checkpoint(TRUNCATE)"} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				return fail(fmt.Errorf("%s: %w", p, err))
			}
		}
	}
	return db, nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", errCorrupt, result)
	}
	return nil
}

// classify marks SQLITE_CORRUPT and SQLITE_NOTADB failures as errCorrupt.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations.FS,
		goose.WithGoMigrations(migrations.Go()...),
	)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		s.log.Debug("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func removeFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close releases the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// lock acquires the store mutex and reports ErrClosed. Callers must unlock
// only when err is nil.
func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}
