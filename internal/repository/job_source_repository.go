package repository

import (
	"context"
	"errors"
	"strings"

	"jobpulse/internal/database"
)

var ErrSourceNotFound = errors.New("job source not found")

type JobSource struct {
	Name    string `json:"name"`
	Group   string `json:"group"`
	Enabled bool   `json:"enabled"`
}

type PostgresJobSourceRepository struct {
	db database.DB
}

func NewPostgresJobSourceRepository(db database.DB) *PostgresJobSourceRepository {
	return &PostgresJobSourceRepository{db: db}
}

func (r *PostgresJobSourceRepository) List(ctx context.Context) ([]JobSource, error) {
	rows, err := r.db.Query(ctx, `SELECT name, source_group, enabled FROM job_sources ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]JobSource, 0)
	for rows.Next() {
		var s JobSource
		if err := rows.Scan(&s.Name, &s.Group, &s.Enabled); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Disabled returns the names operators switched off.
func (r *PostgresJobSourceRepository) Disabled(ctx context.Context) (map[string]bool, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, s := range all {
		if !s.Enabled {
			out[s.Name] = true
		}
	}
	return out, nil
}

func (r *PostgresJobSourceRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	n, err := r.db.Exec(ctx,
		`UPDATE job_sources SET enabled = $2 WHERE name = $1`,
		strings.ToLower(strings.TrimSpace(name)), enabled,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSourceNotFound
	}
	return nil
}
