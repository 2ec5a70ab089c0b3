package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/subscriber"
	"jobpulse/internal/logger"
	"jobpulse/internal/pkg/workerpool"
	"jobpulse/internal/repository"
	"jobpulse/internal/scraper"
	"jobpulse/internal/search"
	"jobpulse/internal/ws"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrNoTerms = errors.New("no search terms")

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type JobStore interface {
	Insert(ctx context.Context, j job.Job) error
	BatchInsert(ctx context.Context, jobs []job.Job) (int, error)
}

type Deduper interface {
	IsNew(ctx context.Context, j job.Job) (bool, error)
	Release(ctx context.Context, key job.IdentityKey)
}

type ProfileLister interface {
	ListActive(ctx context.Context) ([]subscriber.Profile, error)
}

type RunRecorder interface {
	Start(ctx context.Context, trigger string, at time.Time) (uuid.UUID, error)
	Finish(ctx context.Context, run repository.ScrapeRun) error
}

type SourceFilter interface {
	Disabled(ctx context.Context) (map[string]bool, error)
}

type Config struct {
	MinInterval   time.Duration
	CallTimeout   time.Duration
	MaxTerms      int
	PrimarySkills int
	// Sources restricts every run to these adapters when non-empty.
	Sources []string
}

type RunRequest struct {
	Terms      []string
	Sources    []string
	Location   string
	RemoteOnly bool
	Trigger    Trigger
}

type SourceTally struct {
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Unavailable int `json:"unavailable"`
	Found       int `json:"found"`
	NewJobs     int `json:"new_jobs"`
}

type RunSummary struct {
	RunID      uuid.UUID              `json:"run_id"`
	Trigger    Trigger                `json:"trigger"`
	Terms      []string               `json:"terms"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	JobsFound  int                    `json:"jobs_found"`
	NewJobs    int                    `json:"new_jobs"`
	Duplicates int                    `json:"duplicates"`
	Malformed  int                    `json:"malformed"`
	StoreFails int                    `json:"store_failures"`
	PerSource  map[string]SourceTally `json:"per_source"`
}

type Orchestrator struct {
	registry *scraper.Registry
	store    JobStore
	dedup    Deduper
	profiles ProfileLister
	runs     RunRecorder
	sources  SourceFilter
	events   ws.Publisher
	cfg      Config
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type Option func(*Orchestrator)

func WithRunRecorder(r RunRecorder) Option   { return func(o *Orchestrator) { o.runs = r } }
func WithSourceFilter(f SourceFilter) Option { return func(o *Orchestrator) { o.sources = f } }
func WithPublisher(p ws.Publisher) Option    { return func(o *Orchestrator) { o.events = p } }
func WithClock(now func() time.Time) Option  { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(reg *scraper.Registry, store JobStore, dedup Deduper, profiles ProfileLister, cfg Config, log logger.Logger, opts ...Option) *Orchestrator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = 10
	}
	if cfg.PrimarySkills <= 0 {
		cfg.PrimarySkills = 3
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &Orchestrator{
		registry: reg,
		store:    store,
		dedup:    dedup,
		profiles: profiles,
		events:   ws.NopPublisher{},
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		limiters: map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// limiter returns the shared minimum-interval gate for a source.
func (o *Orchestrator) limiter(source string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[source]
	if !ok {
		l = rate.NewLimiter(rate.Every(o.cfg.MinInterval), 1)
		o.limiters[source] = l
	}
	return l
}

// Run fetches every term from every requested source. Sources run in
// parallel, terms within a source run one after another behind that source's
// limiter. Per-source failures are tallied, never returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	terms := normalizeTerms(req.Terms)
	if len(terms) == 0 {
		return RunSummary{}, ErrNoTerms
	}
	names := req.Sources
	if len(names) == 0 {
		names = o.cfg.Sources
	}
	adapters, err := o.registry.Resolve(names)
	if err != nil {
		return RunSummary{}, err
	}
	adapters = o.enabled(ctx, adapters)
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	sum := RunSummary{
		Trigger:   req.Trigger,
		Terms:     terms,
		StartedAt: o.now(),
		PerSource: map[string]SourceTally{},
	}
	if o.runs != nil {
		id, err := o.runs.Start(ctx, string(req.Trigger), sum.StartedAt)
		if err != nil {
			o.log.Warn("scrape run not recorded", logger.Error(err))
		}
		sum.RunID = id
	}

	st := &runState{seen: map[job.IdentityKey]struct{}{}}
	if len(adapters) > 0 {
		pool := workerpool.New(len(adapters), len(adapters))
		results := pool.Run(ctx)
		for _, a := range adapters {
			pool.Submit(func(ctx context.Context) error {
				tally := o.runSource(ctx, a, terms, req, st)
				st.mu.Lock()
				sum.PerSource[a.Name()] = tally
				st.mu.Unlock()
				return nil
			})
		}
		pool.Close()
		for res := range results {
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				o.log.Error("source task failed", logger.Error(res.Err))
			}
		}
	}

	sum.FinishedAt = o.now()
	sum.Duplicates = st.duplicates
	sum.Malformed = st.malformed
	sum.StoreFails = st.storeFails
	for _, t := range sum.PerSource {
		sum.JobsFound += t.Found
		sum.NewJobs += t.NewJobs
	}

	o.finish(ctx, sum)
	o.log.Info("ingest run finished",
		logger.String("trigger", string(sum.Trigger)),
		logger.Int("sources", len(adapters)),
		logger.Int("terms", len(terms)),
		logger.Int("jobs_found", sum.JobsFound),
		logger.Int("new_jobs", sum.NewJobs),
		logger.Int("duplicates", sum.Duplicates),
		logger.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	if sum.NewJobs > 0 {
		sources := make([]string, 0, len(sum.PerSource))
		for name, t := range sum.PerSource {
			if t.NewJobs > 0 {
				sources = append(sources, name)
			}
		}
		sort.Strings(sources)
		o.events.Publish(ws.NewEvent(ws.EventJobsUpdated, sum.FinishedAt, map[string]any{
			"new_jobs": sum.NewJobs,
			"sources":  sources,
			"terms":    terms,
		}))
	}
	return sum, nil
}

// RunScheduled derives terms and sources from the active subscribers.
func (o *Orchestrator) RunScheduled(ctx context.Context) (RunSummary, error) {
	profiles, err := o.profiles.ListActive(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list profiles: %w", err)
	}
	terms := SelectTerms(profiles, o.cfg.PrimarySkills, o.cfg.MaxTerms)
	if len(terms) == 0 {
		o.log.Info("ingest skipped, no subscriber skills")
		return RunSummary{Trigger: TriggerScheduled, PerSource: map[string]SourceTally{}}, nil
	}
	return o.Run(ctx, RunRequest{
		Terms:   terms,
		Sources: o.scheduledSources(profiles),
		Trigger: TriggerScheduled,
	})
}

// DefaultTerms is the term set a scheduled run would search right now.
func (o *Orchestrator) DefaultTerms(ctx context.Context) ([]string, error) {
	profiles, err := o.profiles.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return SelectTerms(profiles, o.cfg.PrimarySkills, o.cfg.MaxTerms), nil
}

func (o *Orchestrator) scheduledSources(profiles []subscriber.Profile) []string {
	allowed := map[string]bool{}
	for _, s := range o.cfg.Sources {
		allowed[s] = true
	}
	set := map[string]struct{}{}
	for _, p := range profiles {
		for _, s := range o.registry.SourcesFor(p) {
			if len(allowed) > 0 && !allowed[s] {
				continue
			}
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return o.cfg.Sources
	}
	return out
}

func (o *Orchestrator) enabled(ctx context.Context, adapters []scraper.Adapter) []scraper.Adapter {
	if o.sources == nil {
		return adapters
	}
	disabled, err := o.sources.Disabled(ctx)
	if err != nil {
		o.log.Warn("source toggles unavailable, using all sources", logger.Error(err))
		return adapters
	}
	out := adapters[:0:0]
	for _, a := range adapters {
		if disabled[a.Name()] {
			o.log.Debug("source disabled", logger.String("source", a.Name()))
			continue
		}
		out = append(out, a)
	}
	return out
}

type runState struct {
	mu         sync.Mutex
	seen       map[job.IdentityKey]struct{}
	duplicates int
	malformed  int
	storeFails int
}

// claim collapses repeats of a key within one run.
func (s *runState) claim(key job.IdentityKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		s.duplicates++
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *runState) add(duplicates, malformed, storeFails int) {
	s.mu.Lock()
	s.duplicates += duplicates
	s.malformed += malformed
	s.storeFails += storeFails
	s.mu.Unlock()
}

func (o *Orchestrator) runSource(ctx context.Context, a scraper.Adapter, terms []string, req RunRequest, st *runState) SourceTally {
	var tally SourceTally
	log := o.log.With(logger.String("source", a.Name()))
	lim := o.limiter(a.Name())

	for _, term := range terms {
		if ctx.Err() != nil {
			break
		}
		if err := lim.Wait(ctx); err != nil {
			break
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
		batch, err := a.Fetch(callCtx, scraper.Query{Text: term, Location: req.Location, RemoteOnly: req.RemoteOnly})
		cancel()
		if err != nil {
			if errors.Is(err, scraper.ErrSourceUnavailable) {
				tally.Unavailable++
			} else {
				tally.Failed++
			}
			log.Warn("fetch failed", logger.String("term", term), logger.Error(err))
			continue
		}
		tally.Succeeded++
		tally.Found += len(batch.Jobs)
		tally.NewJobs += o.persist(ctx, batch, st, log)
	}
	return tally
}

// persist stores one fetched batch under its own timeout so a cancelled run
// does not drop work that was already fetched. New jobs go in as one batch;
// when that fails they are retried one by one so a single bad row only
// costs itself.
func (o *Orchestrator) persist(ctx context.Context, batch scraper.Batch, st *runState, log logger.Logger) int {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()

	fresh := make([]job.Job, 0, len(batch.Jobs))
	dups := 0
	for _, j := range batch.Jobs {
		if !st.claim(j.Key) {
			continue
		}
		isNew, err := o.dedup.IsNew(storeCtx, j)
		if err != nil || !isNew {
			dups++
			continue
		}
		fresh = append(fresh, j)
	}

	stored, fails := 0, 0
	if len(fresh) > 0 {
		n, err := o.store.BatchInsert(storeCtx, fresh)
		if err == nil {
			stored = n
			dups += len(fresh) - n
		} else {
			log.Warn("batch insert failed, storing jobs one by one", logger.Int("jobs", len(fresh)), logger.Error(err))
			var d int
			stored, d, fails = o.insertEach(storeCtx, fresh, log)
			dups += d
		}
	}
	st.add(dups, batch.Skipped, fails)
	return stored
}

func (o *Orchestrator) insertEach(ctx context.Context, jobs []job.Job, log logger.Logger) (stored, dups, fails int) {
	for _, j := range jobs {
		err := o.store.Insert(ctx, j)
		switch {
		case err == nil:
			stored++
		case errors.Is(err, job.ErrDuplicateConflict):
			dups++
		default:
			fails++
			o.dedup.Release(ctx, j.Key)
			log.Error("store job failed", logger.String("key", j.Key.String()), logger.Error(err))
		}
	}
	return stored, dups, fails
}

func (o *Orchestrator) finish(ctx context.Context, sum RunSummary) {
	if o.runs == nil || sum.RunID == uuid.Nil {
		return
	}
	status := repository.ScrapeRunFinished
	if ctx.Err() != nil {
		status = repository.ScrapeRunFailed
	}
	b, err := json.Marshal(sum.PerSource)
	if err != nil {
		b = []byte(`{}`)
	}
	finished := sum.FinishedAt
	run := repository.ScrapeRun{
		ID:         sum.RunID,
		Trigger:    string(sum.Trigger),
		Status:     status,
		StartedAt:  sum.StartedAt,
		FinishedAt: &finished,
		JobsFound:  sum.JobsFound,
		NewJobs:    sum.NewJobs,
		Summary:    b,
	}
	if err := o.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		o.log.Warn("scrape run not finalized", logger.String("run_id", sum.RunID.String()), logger.Error(err))
	}
}

func normalizeTerms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, t := range in {
		t = search.Term(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SelectTerms ranks the primary skills of active subscribers by how many
// subscribers share them and keeps the top maxTerms.
func SelectTerms(profiles []subscriber.Profile, primary, maxTerms int) []string {
	counts := map[string]int{}
	for _, p := range profiles {
		if !p.Eligible() {
			continue
		}
		mine := map[string]struct{}{}
		for _, s := range p.PrimarySkills(primary) {
			t := search.Term(s)
			if t == "" {
				continue
			}
			mine[t] = struct{}{}
		}
		for t := range mine {
			counts[t]++
		}
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return strings.Compare(terms[i], terms[j]) < 0
	})
	if maxTerms > 0 && len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return terms
}
