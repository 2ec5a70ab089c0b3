package linkcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/linkcheck"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	jobs    []job.Job
	filters []job.Filter
	states  map[job.IdentityKey]job.LinkState
}

func newMemStore(jobs ...job.Job) *memStore {
	return &memStore{jobs: jobs, states: map[job.IdentityKey]job.LinkState{}}
}

func (m *memStore) Query(_ context.Context, f job.Filter) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return m.jobs, nil
}

func (m *memStore) UpdateLinkState(_ context.Context, key job.IdentityKey, state job.LinkState, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

func (m *memStore) state(key job.IdentityKey) job.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}

type memResults struct {
	mu     sync.Mutex
	saved  []linkcheck.Result
	source string
	report linkcheck.HealthReport
}

func (m *memResults) Save(_ context.Context, r linkcheck.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

func (m *memResults) Health(_ context.Context, source string) (linkcheck.HealthReport, error) {
	m.source = source
	return m.report, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{m: map[string][]byte{}} }

func (c *mapCache) GetJSON(_ context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = b
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type linkServer struct {
	*httptest.Server
	hits     sync.Map
	inFlight int32
	peak     int32
}

func (s *linkServer) count(path string) int {
	v, ok := s.hits.Load(path)
	if !ok {
		return 0
	}
	return int(atomic.LoadInt32(v.(*int32)))
}

func newLinkServer(t *testing.T) *linkServer {
	t.Helper()
	s := &linkServer{}
	mux := http.NewServeMux()
	hit := func(path string) int32 {
		v, _ := s.hits.LoadOrStore(path, new(int32))
		return atomic.AddInt32(v.(*int32), 1)
	}
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		hit(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		hit(r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		hit(r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/recovers", func(w http.ResponseWriter, r *http.Request) {
		if hit(r.URL.Path) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nohead", func(w http.ResponseWriter, r *http.Request) {
		hit(r.URL.Path + ":" + r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/held", func(w http.ResponseWriter, r *http.Request) {
		hit(r.URL.Path)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.inFlight, 1)
		for {
			old := atomic.LoadInt32(&s.peak)
			if n <= old || atomic.CompareAndSwapInt32(&s.peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&s.inFlight, -1)
		w.WriteHeader(http.StatusOK)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.BatchPause = time.Millisecond
	return cfg
}

func TestCheck_NotFoundIsBrokenWithoutRetry(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	res := c.Check(context.Background(), srv.URL+"/missing")

	assert.Equal(t, linkcheck.OutcomeBroken, res.Outcome)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, http.StatusNotFound, *res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, srv.count("/missing"))
	assert.Contains(t, res.Err, ErrTerminal.Error())
}

func TestCheck_ServerErrorRetriedThenBroken(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	res := c.Check(context.Background(), srv.URL+"/down")

	assert.Equal(t, linkcheck.OutcomeBroken, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, srv.count("/down"))
	assert.Contains(t, res.Err, ErrTransient.Error())
}

func TestCheck_ServerErrorRecovers(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	res := c.Check(context.Background(), srv.URL+"/recovers")

	assert.Equal(t, linkcheck.OutcomeWorking, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, res.Err)
}

func TestCheck_NetworkFailureBoundedAttempts(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("dial tcp: i/o timeout")
	})}
	c := New(nil, nil, testConfig(), nil, WithHTTPClient(client))

	res := c.Check(context.Background(), "https://jobs.example.com/1")

	assert.Equal(t, linkcheck.OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCheck_HeadNotAllowedFallsBackToGet(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	res := c.Check(context.Background(), srv.URL+"/nohead")

	assert.Equal(t, linkcheck.OutcomeWorking, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, srv.count("/nohead:HEAD"))
	assert.Equal(t, 1, srv.count("/nohead:GET"))
}

func TestCheck_RedirectRecordsFinalURL(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	res := c.Check(context.Background(), srv.URL+"/old")

	assert.Equal(t, linkcheck.OutcomeRedirected, res.Outcome)
	assert.Equal(t, srv.URL+"/new", res.FinalURL)
	assert.Equal(t, job.LinkWorking, res.Outcome.LinkState())
}

func TestCheck_InvalidURL(t *testing.T) {
	c := New(nil, nil, testConfig(), nil)

	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "https://"} {
		res := c.Check(context.Background(), raw)
		assert.Equal(t, linkcheck.OutcomeBroken, res.Outcome, raw)
		assert.Equal(t, 0, res.Attempts, raw)
	}
}

func TestCheckJobs_ConcurrencyCeiling(t *testing.T) {
	srv := newLinkServer(t)
	jobs := make([]job.Job, 12)
	for i := range jobs {
		jobs[i] = job.Job{Key: job.IdentityKey("remoteok:" + string(rune('a'+i))), ApplyURL: srv.URL + "/slow", Active: true}
	}
	store := newMemStore()
	results := &memResults{}
	c := New(store, results, testConfig(), nil)

	out := c.CheckJobs(context.Background(), jobs)

	require.Len(t, out, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&srv.peak), int32(5))
	for _, j := range jobs {
		assert.Equal(t, job.LinkWorking, store.state(j.Key))
	}
	assert.Len(t, results.saved, 12)
}

func TestCheckJobs_PanicRecordedAsUnknown(t *testing.T) {
	srv := newLinkServer(t)
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/panic" {
			panic("parser exploded")
		}
		return http.DefaultTransport.RoundTrip(r)
	})}
	store := newMemStore()
	c := New(store, &memResults{}, testConfig(), nil, WithHTTPClient(client))

	out := c.CheckJobs(context.Background(), []job.Job{
		{Key: "a:1", ApplyURL: srv.URL + "/panic"},
		{Key: "a:2", ApplyURL: srv.URL + "/ok"},
		{Key: "a:3", ApplyURL: srv.URL + "/missing"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, linkcheck.OutcomeUnknown, out[0].Outcome)
	assert.Equal(t, linkcheck.OutcomeWorking, out[1].Outcome)
	assert.Equal(t, linkcheck.OutcomeBroken, out[2].Outcome)
	assert.Equal(t, job.LinkUnknown, store.state("a:1"))
	assert.Equal(t, job.LinkBroken, store.state("a:3"))
}

func TestCheck_CancelledBetweenAttemptsIsInterrupted(t *testing.T) {
	srv := newLinkServer(t)
	cfg := testConfig()
	cfg.BackoffBase = time.Second
	c := New(nil, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	res := c.Check(ctx, srv.URL+"/down")

	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, srv.count("/down"))
}

func TestCheck_CancelledBeforeStart(t *testing.T) {
	srv := newLinkServer(t)
	c := New(nil, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Check(ctx, srv.URL+"/ok")

	assert.True(t, res.Interrupted)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, srv.count("/ok"))
}

func TestCheckJobs_CancelMidRunKeepsStoredState(t *testing.T) {
	srv := newLinkServer(t)
	jobs := make([]job.Job, 7)
	store := newMemStore()
	for i := range jobs {
		key := job.IdentityKey("src:" + string(rune('a'+i)))
		jobs[i] = job.Job{Key: key, ApplyURL: srv.URL + "/held", Active: true, LinkState: job.LinkWorking}
		store.states[key] = job.LinkWorking
	}
	results := &memResults{}
	cache := newMapCache()
	c := New(store, results, testConfig(), nil, WithCache(cache))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	out := c.CheckJobs(ctx, jobs)

	require.Len(t, out, 5)
	for _, r := range out {
		assert.Equal(t, linkcheck.OutcomeWorking, r.Outcome, r.JobKey)
		assert.Equal(t, 1, r.Attempts, r.JobKey)
		assert.False(t, r.Interrupted, r.JobKey)
	}
	for _, j := range jobs {
		assert.Equal(t, job.LinkWorking, store.state(j.Key), j.Key)
	}
	assert.Len(t, results.saved, 5)
	assert.Equal(t, 5, srv.count("/held"))
}

func TestCheckJobs_UsesURLCache(t *testing.T) {
	srv := newLinkServer(t)
	c := New(newMemStore(), &memResults{}, testConfig(), nil, WithCache(newMapCache()))
	jobs := []job.Job{{Key: "a:1", ApplyURL: srv.URL + "/ok"}}

	c.CheckJobs(context.Background(), jobs)
	out := c.CheckJobs(context.Background(), jobs)

	require.Len(t, out, 1)
	assert.Equal(t, linkcheck.OutcomeWorking, out[0].Outcome)
	assert.Equal(t, 1, srv.count("/ok"))
}

func TestRecheckBroken_BypassesCache(t *testing.T) {
	srv := newLinkServer(t)
	url := srv.URL + "/ok"
	cache := newMapCache()
	require.NoError(t, cache.SetJSON(context.Background(), urlCachePrefix+url, linkcheck.Result{URL: url, Outcome: linkcheck.OutcomeBroken}, time.Minute))
	store := newMemStore(job.Job{Key: "a:1", ApplyURL: url, LinkState: job.LinkBroken, Active: true})
	c := New(store, &memResults{}, testConfig(), nil, WithCache(cache))

	sum, err := c.RecheckBroken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Working)
	assert.Equal(t, 1, srv.count("/ok"))
	assert.Equal(t, job.LinkWorking, store.state("a:1"))
	require.Len(t, store.filters, 1)
	assert.Equal(t, job.LinkBroken, store.filters[0].LinkState)
}

func TestVerifyStale_SelectsByFreshness(t *testing.T) {
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	store := newMemStore()
	c := New(store, &memResults{}, testConfig(), nil, WithClock(func() time.Time { return now }))

	sum, err := c.VerifyStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Total)

	require.Len(t, store.filters, 1)
	f := store.filters[0]
	require.NotNil(t, f.NeedsCheckBefore)
	assert.Equal(t, now.Add(-24*time.Hour), *f.NeedsCheckBefore)
	assert.True(t, f.ActiveOnly)
	assert.Equal(t, 200, f.Limit)
}

func TestVerifyPriority_LimitsToRecentJobs(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	store := newMemStore()
	c := New(store, &memResults{}, testConfig(), nil, WithClock(func() time.Time { return now }))

	_, err := c.VerifyPriority(context.Background())
	require.NoError(t, err)

	require.Len(t, store.filters, 1)
	f := store.filters[0]
	require.NotNil(t, f.IngestedAfter)
	assert.Equal(t, now.Add(-6*time.Hour), *f.IngestedAfter)
	assert.Equal(t, 20, f.Limit)
}

func TestCheckSource_RequiresSource(t *testing.T) {
	c := New(newMemStore(), &memResults{}, testConfig(), nil)

	_, err := c.CheckSource(context.Background(), "  ")
	assert.Error(t, err)
}

func TestHealthReport(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rep := linkcheck.HealthReport{Total: 10, Checked: 10, Working: 7, Broken: 3}
	rep.Grade()
	results := &memResults{report: rep}
	c := New(newMemStore(), results, testConfig(), nil, WithClock(func() time.Time { return now }))

	got, err := c.HealthReport(context.Background(), " RemoteOK ")
	require.NoError(t, err)

	assert.Equal(t, "remoteok", results.source)
	assert.Equal(t, linkcheck.HealthWarning, got.Status)
	assert.InDelta(t, 70.0, got.HealthPercentage, 0.001)
	assert.Equal(t, now, got.GeneratedAt)
}
