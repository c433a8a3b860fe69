// Package store keeps exported sessions and detector settings in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// busyTimeoutMS bounds how long a writer waits on a locked database.
const busyTimeoutMS = 5000

// Store is an open, migrated SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// dsn builds a modernc.org/sqlite connection string for path. Pragmas in
// the DSN are applied to every pooled connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	return "file:" + path + "?" + q.Encode()
}

// New opens the database at path, creating it if needed, and brings the
// schema to the latest version.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path as given to New.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the connection pool for tests and migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}
