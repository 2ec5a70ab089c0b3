package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/linkcheck"
	"jobpulse/internal/ingest"
	"jobpulse/internal/repository"
	"jobpulse/internal/scheduler"
	"jobpulse/internal/scraper"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownPass  = errors.New("unknown verification pass")
	ErrNotFound     = errors.New("not found")
)

const (
	PassStale    = "stale"
	PassPriority = "priority"
	PassBroken   = "broken"
	PassSource   = "source"

	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

type Ingester interface {
	Run(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error)
	DefaultTerms(ctx context.Context) ([]string, error)
}

type Deliverer interface {
	Status() scheduler.Status
	DeliverNow(ctx context.Context, subscriberID string) (scheduler.Delivery, error)
}

type LinkVerifier interface {
	HealthReport(ctx context.Context, source string) (linkcheck.HealthReport, error)
	VerifyStale(ctx context.Context) (linkcheck.Summary, error)
	VerifyPriority(ctx context.Context) (linkcheck.Summary, error)
	RecheckBroken(ctx context.Context) (linkcheck.Summary, error)
	CheckSource(ctx context.Context, source string) (linkcheck.Summary, error)
}

type ClickRecorder interface {
	MarkClicked(ctx context.Context, recordID uuid.UUID, key job.IdentityKey, at time.Time) error
}

type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.ScrapeRun, error)
}

type SourceAdmin interface {
	List(ctx context.Context) ([]repository.JobSource, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

type ForceRunInput struct {
	Sources []string
	Terms   []string
}

type VerifyInput struct {
	Pass   string
	Source string
}

type OpsUsecase interface {
	ForceRun(ctx context.Context, in ForceRunInput) (ingest.RunSummary, error)
	SchedulerStatus() scheduler.Status
	LinkHealthReport(ctx context.Context, source string) (linkcheck.HealthReport, error)
	VerifyLinks(ctx context.Context, in VerifyInput) (linkcheck.Summary, error)
	DeliverNow(ctx context.Context, subscriberID string) (scheduler.Delivery, error)
	RecordClick(ctx context.Context, recordID uuid.UUID, jobKey string) error
	ListScrapeRuns(ctx context.Context, limit int) ([]repository.ScrapeRun, error)
	ListSources(ctx context.Context) ([]repository.JobSource, error)
	SetSourceEnabled(ctx context.Context, name string, enabled bool) error
}

type Ops struct {
	ingest   Ingester
	delivery Deliverer
	links    LinkVerifier
	clicks   ClickRecorder
	runs     RunLister
	sources  SourceAdmin
	now      func() time.Time
}

func NewOpsUsecase(in Ingester, d Deliverer, l LinkVerifier, clicks ClickRecorder, runs RunLister, sources SourceAdmin) *Ops {
	return &Ops{
		ingest:   in,
		delivery: d,
		links:    l,
		clicks:   clicks,
		runs:     runs,
		sources:  sources,
		now:      time.Now,
	}
}

// ForceRun starts a manual scrape. Without terms it searches what a
// scheduled run would search.
func (o *Ops) ForceRun(ctx context.Context, in ForceRunInput) (ingest.RunSummary, error) {
	terms := in.Terms
	if len(terms) == 0 {
		def, err := o.ingest.DefaultTerms(ctx)
		if err != nil {
			return ingest.RunSummary{}, err
		}
		terms = def
	}
	sum, err := o.ingest.Run(ctx, ingest.RunRequest{
		Terms:   terms,
		Sources: in.Sources,
		Trigger: ingest.TriggerManual,
	})
	if errors.Is(err, ingest.ErrNoTerms) || errors.Is(err, scraper.ErrUnknownSource) {
		return sum, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return sum, err
}

func (o *Ops) SchedulerStatus() scheduler.Status {
	return o.delivery.Status()
}

func (o *Ops) LinkHealthReport(ctx context.Context, source string) (linkcheck.HealthReport, error) {
	return o.links.HealthReport(ctx, source)
}

func (o *Ops) VerifyLinks(ctx context.Context, in VerifyInput) (linkcheck.Summary, error) {
	pass := strings.ToLower(strings.TrimSpace(in.Pass))
	switch pass {
	case "", PassStale:
		return o.links.VerifyStale(ctx)
	case PassPriority:
		return o.links.VerifyPriority(ctx)
	case PassBroken:
		return o.links.RecheckBroken(ctx)
	case PassSource:
		if strings.TrimSpace(in.Source) == "" {
			return linkcheck.Summary{}, fmt.Errorf("%w: source is required", ErrInvalidInput)
		}
		return o.links.CheckSource(ctx, in.Source)
	default:
		return linkcheck.Summary{}, fmt.Errorf("%w: %q", ErrUnknownPass, in.Pass)
	}
}

func (o *Ops) DeliverNow(ctx context.Context, subscriberID string) (scheduler.Delivery, error) {
	id := strings.TrimSpace(subscriberID)
	if id == "" {
		return scheduler.Delivery{}, ErrInvalidInput
	}
	return o.delivery.DeliverNow(ctx, id)
}

func (o *Ops) RecordClick(ctx context.Context, recordID uuid.UUID, jobKey string) error {
	key := strings.TrimSpace(jobKey)
	if recordID == uuid.Nil || key == "" {
		return ErrInvalidInput
	}
	return o.clicks.MarkClicked(ctx, recordID, job.IdentityKey(key), o.now().UTC())
}

func (o *Ops) ListScrapeRuns(ctx context.Context, limit int) ([]repository.ScrapeRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	return o.runs.ListRecent(ctx, limit)
}

func (o *Ops) ListSources(ctx context.Context) ([]repository.JobSource, error) {
	return o.sources.List(ctx)
}

func (o *Ops) SetSourceEnabled(ctx context.Context, name string, enabled bool) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidInput
	}
	err := o.sources.SetEnabled(ctx, name, enabled)
	if errors.Is(err, repository.ErrSourceNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
