package linkcheck

import (
	"time"

	"jobpulse/internal/domain/job"
)

type Outcome string

const (
	OutcomeWorking    Outcome = "working"
	OutcomeBroken     Outcome = "broken"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeRedirected Outcome = "redirected"
	OutcomeUnknown    Outcome = "unknown"
)

// LinkState folds an outcome into the three states stored on a job.
func (o Outcome) LinkState() job.LinkState {
	switch o {
	case OutcomeWorking, OutcomeRedirected:
		return job.LinkWorking
	case OutcomeBroken, OutcomeTimeout:
		return job.LinkBroken
	case OutcomeUnknown:
		return job.LinkUnknown
	default:
		return job.LinkUnknown
	}
}

type Result struct {
	JobKey     job.IdentityKey `json:"job_key,omitempty"`
	URL        string          `json:"url"`
	Outcome    Outcome         `json:"outcome"`
	StatusCode *int            `json:"status_code,omitempty"`
	FinalURL   string          `json:"final_url,omitempty"`
	Attempts   int             `json:"attempts"`
	Duration   time.Duration   `json:"duration"`
	CheckedAt  time.Time       `json:"checked_at"`
	Err        string          `json:"error,omitempty"`

	// Interrupted marks a check cut short by cancellation. It carries no
	// verdict about the link and is never stored.
	Interrupted bool `json:"-"`
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthReport struct {
	Source           string       `json:"source,omitempty"`
	Total            int          `json:"total"`
	Checked          int          `json:"checked"`
	Working          int          `json:"working"`
	Broken           int          `json:"broken"`
	Unknown          int          `json:"unknown"`
	HealthPercentage float64      `json:"health_percentage"`
	Status           HealthStatus `json:"status"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// Grade fills HealthPercentage and Status from the counters.
func (r *HealthReport) Grade() {
	if r.Checked <= 0 {
		r.HealthPercentage = 0
		r.Status = HealthUnhealthy
		if r.Total == 0 {
			r.Status = HealthHealthy
		}
		return
	}
	r.HealthPercentage = float64(r.Working) / float64(r.Checked) * 100
	switch {
	case r.HealthPercentage >= 80:
		r.Status = HealthHealthy
	case r.HealthPercentage >= 60:
		r.Status = HealthWarning
	default:
		r.Status = HealthUnhealthy
	}
}

type Summary struct {
	Total      int `json:"total"`
	Working    int `json:"working"`
	Broken     int `json:"broken"`
	Timeout    int `json:"timeout"`
	Redirected int `json:"redirected"`
	Unknown    int `json:"unknown"`
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeWorking:
			s.Working++
		case OutcomeBroken:
			s.Broken++
		case OutcomeTimeout:
			s.Timeout++
		case OutcomeRedirected:
			s.Redirected++
		case OutcomeUnknown:
			s.Unknown++
		default:
			s.Unknown++
		}
	}
	return s
}
