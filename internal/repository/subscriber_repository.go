package repository

import (
	"context"

	"jobpulse/internal/database"
	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/subscriber"
)

const subscriberColumns = `id, channel_id, display_name, language_pref, location_pref, preferred_country,
	skills, job_types, frequency, delivery_times, onboarding_completed, is_active, created_at`

type PostgresSubscriberRepository struct {
	db database.DB
}

func NewPostgresSubscriberRepository(db database.DB) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{db: db}
}

func (r *PostgresSubscriberRepository) GetByID(ctx context.Context, id string) (subscriber.Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		if isNoRows(err) {
			return subscriber.Profile{}, subscriber.ErrNotFound
		}
		return subscriber.Profile{}, err
	}
	return p, nil
}

func (r *PostgresSubscriberRepository) ListActive(ctx context.Context) ([]subscriber.Profile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers
		 WHERE is_active AND onboarding_completed
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]subscriber.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresSubscriberRepository) Deactivate(ctx context.Context, id string) error {
	n, err := r.db.Exec(ctx,
		`UPDATE subscribers SET is_active = FALSE, deactivated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func scanProfile(row database.Row) (subscriber.Profile, error) {
	var (
		p        subscriber.Profile
		lang     string
		loc      string
		jobTypes []string
		times    []string
	)
	err := row.Scan(
		&p.ID, &p.ChannelID, &p.DisplayName, &lang, &loc, &p.PreferredCountry,
		&p.Skills, &jobTypes, &p.Frequency, &times, &p.OnboardingCompleted, &p.Active, &p.CreatedAt,
	)
	if err != nil {
		return subscriber.Profile{}, err
	}
	p.Language = subscriber.LanguagePreference(lang)
	p.Location = subscriber.LocationPreference(loc)
	for _, raw := range jobTypes {
		if t := job.ParseType(raw); t != job.TypeUnspecified {
			p.JobTypes = append(p.JobTypes, t)
		}
	}
	for _, raw := range times {
		// Malformed times fall back to the window defaults.
		if t, err := subscriber.ParseTimeOfDay(raw); err == nil {
			p.DeliveryTimes = append(p.DeliveryTimes, t)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
