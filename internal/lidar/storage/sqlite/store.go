package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas are applied to every connection the Store opens.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store persists localization sessions, per-cycle poses and map snapshots.
// It implements pipeline.DiagnosticsSink and pipeline.MapPersister.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	session string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite serialises writers; one connection keeps PRAGMAs and avoids
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close ends the active session, if any, and closes the database.
func (s *Store) Close() error {
	if err := s.EndSession(); err != nil {
		opsf("end session on close: %v", err)
	}
	return s.db.Close()
}

// SessionID returns the active session, or "" before StartSession.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
