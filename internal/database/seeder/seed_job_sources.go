package seeder

import (
	"context"
	"fmt"

	"jobpulse/internal/database"
)

type SourceSeed struct {
	Name  string
	Group string
}

// JobSourcesSeeder registers every known source as enabled. Existing rows
// keep their enabled flag so operators can switch sources off.
type JobSourcesSeeder struct {
	Sources []SourceSeed
}

func (JobSourcesSeeder) Name() string { return "job_sources" }

func (s JobSourcesSeeder) Run(ctx context.Context, db database.DB) error {
	if err := EnsureTableColumns(ctx, db, "job_sources", "name", "source_group", "enabled", "created_at"); err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	for _, it := range s.Sources {
		_, err := tx.Exec(
			ctx,
			`INSERT INTO job_sources (name, source_group) VALUES ($1, $2)
			 ON CONFLICT (name) DO UPDATE SET source_group = EXCLUDED.source_group`,
			it.Name,
			it.Group,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
