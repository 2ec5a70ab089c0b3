package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/linkcheck"
	"jobpulse/internal/logger"
	"jobpulse/internal/pkg/workerpool"
	"jobpulse/internal/ws"
)

const (
	userAgent      = "Mozilla/5.0 (compatible; JobPulseLinkCheck/1.0; +https://jobpulse.dev/bot)"
	urlCachePrefix = "links:url:"
	drainLimit     = 64 << 10
)

var (
	// ErrTransient covers timeouts and 5xx answers. Retried within policy.
	ErrTransient = errors.New("link check transient failure")

	// ErrTerminal is a 4xx answer. Never retried.
	ErrTerminal = errors.New("link check terminal failure")

	ErrInvalidURL = errors.New("invalid url")
)

type JobStore interface {
	Query(ctx context.Context, f job.Filter) ([]job.Job, error)
	UpdateLinkState(ctx context.Context, key job.IdentityKey, state job.LinkState, checkedAt time.Time) error
}

// URLCache holds recent results per URL. *cache.Redis satisfies it.
type URLCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	Concurrency    int
	BatchPause     time.Duration
	Freshness      time.Duration
	StaleLimit     int
	PriorityWindow time.Duration
	PriorityLimit  int
	URLCacheTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Second,
		Concurrency:    5,
		BatchPause:     time.Second,
		Freshness:      24 * time.Hour,
		StaleLimit:     200,
		PriorityWindow: 6 * time.Hour,
		PriorityLimit:  20,
		URLCacheTTL:    30 * time.Minute,
	}
}

type Checker struct {
	client  *http.Client
	store   JobStore
	results linkcheck.Repository
	cache   URLCache
	events  ws.Publisher
	cfg     Config
	log     logger.Logger
	now     func() time.Time
}

type Option func(*Checker)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

func WithCache(c URLCache) Option {
	return func(ch *Checker) { ch.cache = c }
}

func WithPublisher(p ws.Publisher) Option {
	return func(ch *Checker) { ch.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(ch *Checker) { ch.now = now }
}

func New(store JobStore, results linkcheck.Repository, cfg Config, log logger.Logger, opts ...Option) *Checker {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.StaleLimit <= 0 {
		cfg.StaleLimit = def.StaleLimit
	}
	if cfg.PriorityWindow <= 0 {
		cfg.PriorityWindow = def.PriorityWindow
	}
	if cfg.PriorityLimit <= 0 {
		cfg.PriorityLimit = def.PriorityLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	c := &Checker{
		client:  &http.Client{},
		store:   store,
		results: results,
		events:  ws.NopPublisher{},
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes one URL. 4xx is final on the first answer; 5xx and network
// errors are retried up to MaxRetries times. A request already sent runs to
// its own timeout even if ctx is cancelled; cancellation is only honoured
// between attempts and marks the result as interrupted.
func (c *Checker) Check(ctx context.Context, rawURL string) linkcheck.Result {
	started := c.now()
	res := linkcheck.Result{URL: rawURL, Outcome: linkcheck.OutcomeUnknown}
	defer func() {
		res.CheckedAt = c.now().UTC()
		res.Duration = c.now().Sub(started)
	}()

	if !validURL(rawURL) {
		res.Outcome = linkcheck.OutcomeBroken
		res.Err = ErrInvalidURL.Error()
		return res
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			res.Interrupted = true
			return res
		}
		res.Attempts++

		code, final, err := c.probe(ctx, rawURL)
		var wait time.Duration
		switch {
		case err != nil:
			res.Outcome = linkcheck.OutcomeTimeout
			res.StatusCode = nil
			res.Err = fmt.Errorf("%w: %v", ErrTransient, err).Error()
			wait = c.cfg.BackoffBase
		case code >= 200 && code < 300:
			res.Outcome = linkcheck.OutcomeWorking
			res.StatusCode = &code
			res.Err = ""
			if final != "" && final != rawURL {
				res.Outcome = linkcheck.OutcomeRedirected
				res.FinalURL = final
			}
			return res
		case code >= 300 && code < 400:
			res.Outcome = linkcheck.OutcomeRedirected
			res.StatusCode = &code
			res.FinalURL = final
			res.Err = ""
			return res
		case code >= 400 && code < 500:
			res.Outcome = linkcheck.OutcomeBroken
			res.StatusCode = &code
			res.Err = fmt.Errorf("%w: status %d", ErrTerminal, code).Error()
			return res
		default:
			res.Outcome = linkcheck.OutcomeBroken
			res.StatusCode = &code
			res.Err = fmt.Errorf("%w: status %d", ErrTransient, code).Error()
			wait = c.cfg.BackoffBase << attempt
		}

		if attempt >= c.cfg.MaxRetries {
			return res
		}
		if err := sleep(ctx, wait); err != nil {
			res.Interrupted = true
			return res
		}
	}
}

// probe sends HEAD, falling back to GET for servers that refuse HEAD.
// Redirects are followed; the returned URL is where the client ended up,
// or the Location header when the redirect was not followed.
func (c *Checker) probe(ctx context.Context, rawURL string) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	code, final, err := c.do(ctx, http.MethodHead, rawURL)
	if err == nil && (code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented) {
		return c.do(ctx, http.MethodGet, rawURL)
	}
	return code, final, err
}

func (c *Checker) do(ctx context.Context, method, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	final := ""
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc, err := resp.Location(); err == nil {
			final = loc.String()
		}
	}
	return resp.StatusCode, final, nil
}

// CheckJobs verifies jobs in batches of Concurrency, pausing between batches.
// A check that panics is recorded as unknown and the batch carries on.
// Checks interrupted by cancellation are dropped so the stored link state
// of those jobs stays as it was.
func (c *Checker) CheckJobs(ctx context.Context, jobs []job.Job) []linkcheck.Result {
	return c.checkJobs(ctx, jobs, false)
}

func (c *Checker) checkJobs(ctx context.Context, jobs []job.Job, bypassCache bool) []linkcheck.Result {
	results := make([]linkcheck.Result, 0, len(jobs))
	size := c.cfg.Concurrency

	for start := 0; start < len(jobs); start += size {
		if ctx.Err() != nil {
			break
		}
		if start > 0 && c.cfg.BatchPause > 0 {
			if err := sleep(ctx, c.cfg.BatchPause); err != nil {
				break
			}
		}
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		for _, r := range c.runBatch(ctx, jobs[start:end], bypassCache) {
			if r.Interrupted {
				continue
			}
			results = append(results, r)
		}
	}

	for _, r := range results {
		c.record(ctx, r)
	}
	if len(results) < len(jobs) {
		c.log.Info("link check interrupted",
			logger.Int("checked", len(results)),
			logger.Int("left", len(jobs)-len(results)),
		)
	}
	return results
}

func (c *Checker) runBatch(ctx context.Context, batch []job.Job, bypassCache bool) []linkcheck.Result {
	out := make([]linkcheck.Result, len(batch))
	for i, j := range batch {
		out[i] = linkcheck.Result{
			JobKey:    j.Key,
			URL:       j.ApplyURL,
			Outcome:   linkcheck.OutcomeUnknown,
			CheckedAt: c.now().UTC(),
		}
	}

	var mu sync.Mutex
	started := make([]bool, len(batch))
	pool := workerpool.New(len(batch), len(batch))
	done := pool.Run(ctx)
	for i, j := range batch {
		pool.Submit(func(ctx context.Context) error {
			mu.Lock()
			started[i] = true
			mu.Unlock()
			r := c.checkCached(ctx, j.ApplyURL, bypassCache)
			r.JobKey = j.Key
			mu.Lock()
			out[i] = r
			mu.Unlock()
			return nil
		})
	}
	pool.Close()
	for res := range done {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, context.DeadlineExceeded) {
			c.log.Warn("link check crashed", logger.Error(res.Err))
		}
	}
	for i := range out {
		if !started[i] {
			out[i].Interrupted = true
		}
	}
	return out
}

func (c *Checker) checkCached(ctx context.Context, rawURL string, bypass bool) linkcheck.Result {
	key := urlCachePrefix + rawURL
	if c.cache != nil && !bypass {
		var hit linkcheck.Result
		if ok, err := c.cache.GetJSON(ctx, key, &hit); err == nil && ok {
			return hit
		}
	}
	r := c.Check(ctx, rawURL)
	if c.cache != nil && !r.Interrupted && r.Outcome != linkcheck.OutcomeUnknown {
		if err := c.cache.SetJSON(context.WithoutCancel(ctx), key, r, c.cfg.URLCacheTTL); err != nil {
			c.log.Debug("link cache write failed", logger.Error(err))
		}
	}
	return r
}

// record runs detached so results of finished checks survive shutdown.
func (c *Checker) record(ctx context.Context, r linkcheck.Result) {
	if r.Interrupted {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if c.results != nil {
		if err := c.results.Save(ctx, r); err != nil {
			c.log.Warn("save link check failed", logger.String("job_key", r.JobKey.String()), logger.Error(err))
		}
	}
	if c.store == nil || r.JobKey == "" {
		return
	}
	if err := c.store.UpdateLinkState(ctx, r.JobKey, r.Outcome.LinkState(), r.CheckedAt); err != nil {
		c.log.Warn("update link state failed", logger.String("job_key", r.JobKey.String()), logger.Error(err))
	}
}

// VerifyStale checks active jobs not verified within the freshness window.
func (c *Checker) VerifyStale(ctx context.Context) (linkcheck.Summary, error) {
	before := c.now().Add(-c.cfg.Freshness)
	return c.pass(ctx, "stale", job.Filter{
		ActiveOnly:       true,
		NeedsCheckBefore: &before,
		Limit:            c.cfg.StaleLimit,
	}, false)
}

// VerifyPriority checks recently ingested jobs before they reach a digest.
func (c *Checker) VerifyPriority(ctx context.Context) (linkcheck.Summary, error) {
	now := c.now()
	before := now.Add(-c.cfg.Freshness)
	after := now.Add(-c.cfg.PriorityWindow)
	return c.pass(ctx, "priority", job.Filter{
		ActiveOnly:       true,
		NeedsCheckBefore: &before,
		IngestedAfter:    &after,
		Limit:            c.cfg.PriorityLimit,
	}, false)
}

// RecheckBroken gives broken links a chance to recover. Cached results are
// ignored so a fixed page is noticed on this pass.
func (c *Checker) RecheckBroken(ctx context.Context) (linkcheck.Summary, error) {
	return c.pass(ctx, "broken", job.Filter{
		ActiveOnly: true,
		LinkState:  job.LinkBroken,
		Limit:      c.cfg.StaleLimit,
	}, true)
}

func (c *Checker) CheckSource(ctx context.Context, source string) (linkcheck.Summary, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return linkcheck.Summary{}, errors.New("source is required")
	}
	return c.pass(ctx, "source", job.Filter{
		Source:     source,
		ActiveOnly: true,
		Limit:      c.cfg.StaleLimit,
	}, false)
}

func (c *Checker) pass(ctx context.Context, name string, f job.Filter, bypassCache bool) (linkcheck.Summary, error) {
	jobs, err := c.store.Query(ctx, f)
	if err != nil {
		return linkcheck.Summary{}, fmt.Errorf("select jobs for %s pass: %w", name, err)
	}
	if len(jobs) == 0 {
		c.log.Debug("link check pass found nothing", logger.String("pass", name))
		return linkcheck.Summary{}, nil
	}

	started := c.now()
	sum := linkcheck.Summarize(c.checkJobs(ctx, jobs, bypassCache))
	c.log.Info("link check pass finished",
		logger.String("pass", name),
		logger.Int("total", sum.Total),
		logger.Int("working", sum.Working),
		logger.Int("broken", sum.Broken),
		logger.Int("timeout", sum.Timeout),
		logger.Int("unknown", sum.Unknown),
		logger.Duration("took", c.now().Sub(started)),
	)
	c.events.Publish(ws.NewEvent(ws.EventLinksChecked, c.now(), map[string]any{
		"pass":    name,
		"total":   sum.Total,
		"working": sum.Working + sum.Redirected,
		"broken":  sum.Broken + sum.Timeout,
		"unknown": sum.Unknown,
	}))
	return sum, nil
}

func (c *Checker) HealthReport(ctx context.Context, source string) (linkcheck.HealthReport, error) {
	rep, err := c.results.Health(ctx, strings.ToLower(strings.TrimSpace(source)))
	if err != nil {
		return linkcheck.HealthReport{}, fmt.Errorf("link health: %w", err)
	}
	rep.GeneratedAt = c.now().UTC()
	return rep, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
