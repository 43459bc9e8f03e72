// Package state persists engine state in SQLite: runs, per-model
// outcomes, watermark records, schema snapshots, and assertion
// results. The store is the exclusive owner of watermark records;
// updates are read-modify-write under a per-model lock.
package state

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore implements core.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// wmMu guards per-model watermark read-modify-write sections.
	// Models never share a watermark key, so no cross-model locking
	// is needed.
	wmMu    sync.Mutex
	wmLocks map[string]*sync.Mutex
}

// NewSQLiteStore creates a new store instance. A nil logger discards.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{
		logger:  logger,
		wmLocks: make(map[string]*sync.Mutex),
	}
}

// Open opens the SQLite database. Use ":memory:" for an in-memory
// database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) modelLock(name string) *sync.Mutex {
	s.wmMu.Lock()
	defer s.wmMu.Unlock()
	mu, ok := s.wmLocks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.wmLocks[name] = mu
	}
	return mu
}

func generateID() string {
	return uuid.New().String()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
