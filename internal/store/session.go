package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is one exported session document stored in the database.
type Session struct {
	ID        string
	Name      string
	NFrames   int
	PoseLen   int
	HandLen   int
	Data      []byte // the JSON document
	CreatedAt time.Time
}

// SessionRepository provides CRUD operations for exported sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, name, n_frames, pose_len, hand_len, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.NFrames, sess.PoseLen, sess.HandLen, string(sess.Data), sess.CreatedAt,
	)
	return err
}

// GetByID retrieves a session, including its document, by ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess := &Session{}
	var data string

	err := r.db.QueryRow(
		`SELECT id, name, n_frames, pose_len, hand_len, data, created_at
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.Name, &sess.NFrames, &sess.PoseLen, &sess.HandLen, &data, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sess.Data = []byte(data)
	return sess, nil
}

// List returns all sessions, newest first, without their documents.
func (r *SessionRepository) List() ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, name, n_frames, pose_len, hand_len, created_at
		 FROM sessions ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.NFrames, &sess.PoseLen, &sess.HandLen, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
