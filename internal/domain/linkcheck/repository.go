package linkcheck

import "context"

type Repository interface {
	Save(ctx context.Context, r Result) error
	// Health counts active jobs by link state. Empty source means all.
	Health(ctx context.Context, source string) (HealthReport, error)
}
