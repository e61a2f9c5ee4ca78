package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - empty database
// 1 - initial schema
const currentSchemaVersion = 1

// Store is a handle on one SQLite database.
type Store struct {
	db     *sql.DB
	origin string

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// Option configures Open.
type Option func(*Store)

// WithOrigin fixes the origin id stamped on this handle's writes.
// The default is a fresh UUIDv7.
func WithOrigin(origin string) Option {
	return func(s *Store) { s.origin = origin }
}

// Open creates or opens the database at path and brings its schema up to
// date. Safe to call repeatedly on the same path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		origin: uuid.Must(uuid.NewV7()).String(),
		subs:   make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database and every subscription channel.
func (s *Store) Close() error {
	s.mu.Lock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan struct{}]struct{})
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Origin returns the id stamped on this handle's writes.
func (s *Store) Origin() string {
	return s.origin
}

// DB exposes the underlying database for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Subscribe returns a channel that receives a signal after every write made
// through this handle. Signals coalesce; readers should drain the change
// feed with Changes after each one. cancel releases the channel.
func (s *Store) Subscribe() (ch <-chan struct{}, cancel func()) {
	c := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[c] = struct{}{}
	s.mu.Unlock()

	return c, func() {
		s.mu.Lock()
		if _, ok := s.subs[c]; ok {
			delete(s.subs, c)
			close(c)
		}
		s.mu.Unlock()
	}
}

func (s *Store) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// appendChange records a write on the feed inside tx and returns its seq.
func appendChange(ctx context.Context, tx *sql.Tx, c Change) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (collection, tag, hash, op, origin)
		VALUES (?, ?, ?, ?, ?)
	`, c.Collection, c.Tag, c.Hash, string(c.Op), c.Origin)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return res.LastInsertId()
}

// verifyPragma checks a pragma value. Used by tests.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
