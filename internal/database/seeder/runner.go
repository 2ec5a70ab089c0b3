package seeder

import (
	"context"
	"fmt"

	"jobpulse/internal/database"
	"jobpulse/internal/logger"
)

type Runner struct {
	Seeders []Seeder
	Log     logger.Logger
}

func (r Runner) Run(ctx context.Context, db database.DB) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	for _, s := range r.Seeders {
		if s == nil {
			continue
		}
		if err := s.Run(ctx, db); err != nil {
			return fmt.Errorf("seed %s: %w", s.Name(), err)
		}
		if r.Log != nil {
			r.Log.Info("seeder finished", logger.String("seeder", s.Name()))
		}
	}
	return nil
}
