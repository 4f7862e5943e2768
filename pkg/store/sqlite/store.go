// Package sqlite is the durable session store driver for native and CLI
// applications: the session record survives process restarts the way
// browser local storage survives page loads. The SessionTokens value can be
// sealed at rest since it carries the refresh token.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/perchauth/perch/pkg/cryptox"
	"github.com/perchauth/perch/pkg/store"

	_ "modernc.org/sqlite"
)

// Store implements store.Store on a sqlite database.
type Store struct {
	db     *sql.DB
	prefix string
	sealer *cryptox.Sealer
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts the SessionTokens value at rest.
func WithSealer(sealer *cryptox.Sealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens (or creates) the database at dsn and namespaces all keys
// by prefix.
func NewStore(dsn, prefix string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		prefix: prefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) key(field store.Field) string {
	return s.prefix + "_" + string(field)
}

// Get reads one field. Absent rows, read failures, and values sealed under
// a different passphrase all read as "": the store contract never errors
// on reads, an unreadable record is simply no session.
func (s *Store) Get(field store.Field) string {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM session_record WHERE key = ?`, s.key(field),
	).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("session store read failed", "field", field, "error", err)
		}
		return ""
	}

	if s.sealer != nil && field == store.SessionTokens {
		opened, err := s.sealer.Open(value)
		if err != nil {
			s.logger.Warn("sealed session tokens unreadable", "error", err)
			return ""
		}
		return opened
	}
	return value
}

// Set writes one field, overwriting any previous value.
func (s *Store) Set(field store.Field, value string) {
	if s.sealer != nil && field == store.SessionTokens {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			s.logger.Error("failed to seal session tokens", "error", err)
			return
		}
		value = sealed
	}

	_, err := s.db.Exec(`
		INSERT INTO session_record (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		s.key(field), value,
	)
	if err != nil {
		s.logger.Error("session store write failed", "field", field, "error", err)
	}
}

// Clear deletes every session field under this prefix in one statement, so
// the record is removed as a unit.
func (s *Store) Clear() {
	_, err := s.db.Exec(
		`DELETE FROM session_record WHERE key IN (?, ?, ?, ?, ?)`,
		s.key(store.Username),
		s.key(store.Provider),
		s.key(store.IDToken),
		s.key(store.ExpiresAt),
		s.key(store.SessionTokens),
	)
	if err != nil {
		s.logger.Error("session store clear failed", "error", err)
	}
}
