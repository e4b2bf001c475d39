package store

import (
	"database/sql"
	"time"
)

// Commit is one committed word in a session's transcript.
type Commit struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Token      string    `json:"token"`
	Confidence float64   `json:"confidence"`
	TS         int64     `json:"ts"`
	StableMS   int64     `json:"stable_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommitRepository stores the commit transcript.
type CommitRepository struct {
	db *sql.DB
}

// Commits returns the commit repository for this store.
func (s *Store) Commits() *CommitRepository {
	return &CommitRepository{db: s.db}
}

// Create appends c to the transcript and sets its ID and CreatedAt.
func (r *CommitRepository) Create(c *Commit) error {
	c.CreatedAt = time.Now()
	result, err := r.db.Exec(
		`INSERT INTO commits (session_id, token, confidence, ts_ms, stable_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Token, c.Confidence, c.TS, c.StableMS, c.CreatedAt,
	)
	if err != nil {
		return err
	}
	c.ID, err = result.LastInsertId()
	return err
}

// ListBySession returns a session's commits in the order they happened.
func (r *CommitRepository) ListBySession(sessionID string) ([]Commit, error) {
	return r.query(
		`SELECT id, session_id, token, confidence, ts_ms, stable_ms, created_at
		 FROM commits WHERE session_id = ? ORDER BY ts_ms, id`,
		sessionID,
	)
}

// Recent returns the latest limit commits across all sessions, newest first.
func (r *CommitRepository) Recent(limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(
		`SELECT id, session_id, token, confidence, ts_ms, stable_ms, created_at
		 FROM commits ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

func (r *CommitRepository) query(q string, args ...any) ([]Commit, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Token, &c.Confidence, &c.TS, &c.StableMS, &c.CreatedAt); err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return commits, nil
}
