package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Prototype is the stored reference feature vector for one sign token.
type Prototype struct {
	Token     string    `json:"token"`
	Vector    []float64 `json:"vector"`
	Samples   int       `json:"samples"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrototypeRepository provides CRUD operations for prototypes.
type PrototypeRepository struct {
	db *sql.DB
}

// Prototypes returns the prototype repository for this store.
func (s *Store) Prototypes() *PrototypeRepository {
	return &PrototypeRepository{db: s.db}
}

// Upsert inserts p or replaces the vector and sample count of the existing
// prototype for p.Token.
func (r *PrototypeRepository) Upsert(p *Prototype) error {
	vector, err := json.Marshal(p.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	now := time.Now()
	_, err = r.db.Exec(
		`INSERT INTO prototypes (token, vector, samples, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
		   vector = excluded.vector,
		   samples = excluded.samples,
		   updated_at = excluded.updated_at`,
		p.Token, string(vector), p.Samples, now, now,
	)
	if err != nil {
		return err
	}

	stored, err := r.Get(p.Token)
	if err != nil {
		return err
	}
	p.CreatedAt = stored.CreatedAt
	p.UpdatedAt = stored.UpdatedAt
	return nil
}

// Get retrieves the prototype for token.
func (r *PrototypeRepository) Get(token string) (*Prototype, error) {
	row := r.db.QueryRow(
		`SELECT token, vector, samples, created_at, updated_at
		 FROM prototypes WHERE token = ?`,
		token,
	)
	p, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// List retrieves all prototypes ordered by token.
func (r *PrototypeRepository) List() ([]*Prototype, error) {
	rows, err := r.db.Query(
		`SELECT token, vector, samples, created_at, updated_at
		 FROM prototypes ORDER BY token`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var protos []*Prototype
	for rows.Next() {
		p, err := scanPrototype(rows)
		if err != nil {
			return nil, err
		}
		protos = append(protos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return protos, nil
}

// Delete removes the prototype for token.
func (r *PrototypeRepository) Delete(token string) error {
	result, err := r.db.Exec(`DELETE FROM prototypes WHERE token = ?`, token)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrototype(row rowScanner) (*Prototype, error) {
	p := &Prototype{}
	var vector string
	if err := row.Scan(&p.Token, &vector, &p.Samples, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vector), &p.Vector); err != nil {
		return nil, fmt.Errorf("decode vector for %s: %w", p.Token, err)
	}
	return p, nil
}
