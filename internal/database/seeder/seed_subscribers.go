package seeder

import (
	"context"
	"fmt"

	"jobpulse/internal/database"
)

type DemoSubscribersSeeder struct{}

func (DemoSubscribersSeeder) Name() string { return "demo_subscribers" }

func (DemoSubscribersSeeder) Run(ctx context.Context, db database.DB) error {
	if err := EnsureTableColumns(
		ctx, db, "subscribers",
		"id", "channel_id", "display_name", "language_pref", "location_pref",
		"preferred_country", "skills", "job_types", "frequency", "delivery_times",
		"onboarding_completed", "is_active",
	); err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	items := []struct {
		ID        string
		Name      string
		Language  string
		Location  string
		Country   string
		Skills    []string
		JobTypes  []string
		Frequency int
		Times     []string
	}{
		{ID: "demo-backend", Name: "Demo Backend", Language: "global", Location: "remote", Skills: []string{"go", "postgresql", "docker"}, JobTypes: []string{"full-time"}, Frequency: 2, Times: []string{"08:00", "18:00"}},
		{ID: "demo-frontend", Name: "Demo Frontend", Language: "both", Location: "both", Country: "egypt", Skills: []string{"react", "typescript"}, Frequency: 1, Times: []string{"09:30"}},
		{ID: "demo-data", Name: "Demo Data", Language: "local", Location: "specific", Country: "jordan", Skills: []string{"python", "sql"}, JobTypes: []string{"contract"}, Frequency: 3},
	}

	for _, it := range items {
		_, err := tx.Exec(
			ctx,
			`INSERT INTO subscribers (id, channel_id, display_name, language_pref, location_pref, preferred_country,
				skills, job_types, frequency, delivery_times, onboarding_completed, is_active)
			 VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, TRUE)
			 ON CONFLICT (id) DO NOTHING`,
			it.ID, it.Name, it.Language, it.Location, it.Country,
			it.Skills, it.JobTypes, it.Frequency, it.Times,
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
