package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Sample represents a recorded landmark sample stored in the database.
type Sample struct {
	ID          int64           `json:"id"`
	Token       string          `json:"token"`
	SampleIndex int             `json:"sample_index"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SampleRepository provides CRUD operations for training samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Create appends samples for token in a single transaction and returns the
// token's total sample count.
func (r *SampleRepository) Create(token string, samples []json.RawMessage) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(sample_index) + 1, 0) FROM sign_samples WHERE token = ?`,
		token,
	).Scan(&next)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO sign_samples (token, sample_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, data := range samples {
		if _, err := stmt.Exec(token, next+i, string(data)); err != nil {
			return 0, err
		}
	}

	var total int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sign_samples WHERE token = ?`, token).Scan(&total); err != nil {
		return 0, err
	}

	return total, tx.Commit()
}

// ListByToken retrieves all samples for a token in recording order.
func (r *SampleRepository) ListByToken(token string) ([]Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, token, sample_index, data, created_at
		 FROM sign_samples
		 WHERE token = ?
		 ORDER BY sample_index`,
		token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var data string
		if err := rows.Scan(&s.ID, &s.Token, &s.SampleIndex, &data, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Data = json.RawMessage(data)
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// CountByToken returns the number of samples per token.
func (r *SampleRepository) CountByToken() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT token, COUNT(*) FROM sign_samples GROUP BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var token string
		var n int
		if err := rows.Scan(&token, &n); err != nil {
			return nil, err
		}
		counts[token] = n
	}
	return counts, rows.Err()
}

// DeleteByToken removes all samples for a token.
func (r *SampleRepository) DeleteByToken(token string) error {
	_, err := r.db.Exec(`DELETE FROM sign_samples WHERE token = ?`, token)
	return err
}
