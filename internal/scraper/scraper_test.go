package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRemoteOKAdapter_FetchFiltersAndNormalizes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"legal": "notice"},
			{"id": "101", "position": "Senior Go Engineer", "company": "Acme", "description": "<p>Build APIs in Golang</p>",
			 "location": "", "tags": ["golang", "postgres"], "url": "https://remoteok.com/remote-jobs/101", "apply_url": "",
			 "date": "2025-03-01T10:00:00+00:00", "salary_min": 90000, "salary_max": 120000},
			{"id": 102, "position": "Python Dev", "company": "Beta", "tags": ["python"], "url": "https://remoteok.com/remote-jobs/102"},
			{"id": 103, "position": "Go Contractor", "company": "Gamma", "tags": ["go"], "url": "not a url"}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewRemoteOKAdapterWithBaseURL(srv.URL)
	batch, err := a.Fetch(testCtx(t), Query{Text: "go"})
	require.NoError(t, err)

	require.Len(t, batch.Jobs, 1)
	assert.Equal(t, 1, batch.Skipped)

	j := batch.Jobs[0]
	assert.Equal(t, job.IdentityKey("remoteok:101"), j.Key)
	assert.Equal(t, "Senior Go Engineer", j.Title)
	assert.Equal(t, "Build APIs in Golang", j.Description)
	assert.True(t, j.Remote)
	assert.Contains(t, j.RequiredSkills, "go")
	assert.Contains(t, j.RequiredSkills, "postgresql")
	require.NotNil(t, j.SalaryRange)
	assert.Equal(t, "90000 - 120000 USD", *j.SalaryRange)
	assert.Equal(t, job.LinkUnknown, j.LinkState)
}

func TestRemoteOKAdapter_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRemoteOKAdapterWithBaseURL(srv.URL).Fetch(testCtx(t), Query{Text: "go"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestRemotiveAdapter_CapsListings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/remote-jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "react", r.URL.Query().Get("search"))
		items := make([]string, 0, 30)
		for i := 0; i < 30; i++ {
			items = append(items, fmt.Sprintf(`{"id": %d, "title": "React Dev %d", "company_name": "Co", "url": "https://remotive.com/job/%d", "job_type": "full_time", "candidate_required_location": "Worldwide"}`, i, i, i))
		}
		_, _ = w.Write([]byte(`{"jobs": [` + strings.Join(items, ",") + `]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	batch, err := NewRemotiveAdapterWithBaseURL(srv.URL).Fetch(testCtx(t), Query{Text: "react", Location: "Egypt"})
	require.NoError(t, err)
	assert.Len(t, batch.Jobs, MaxListingsPerFetch)
	assert.Equal(t, job.TypeFullTime, batch.Jobs[0].Type)
}

const wwrPage = `<html><body><section class="jobs"><ul>
<li class="feature"><a href="/remote-jobs/acme-go-engineer"><span class="company">Acme</span><span class="title">Go Engineer</span><span class="region">Anywhere in the World</span></a></li>
<li class="feature"><a href="/remote-jobs/beta-go-engineer"><span class="company">Beta</span><span class="title"></span></a></li>
<li class="feature"><a href="/remote-jobs/acme-go-engineer"><span class="company">Acme</span><span class="title">Go Engineer</span></a></li>
</ul></section></body></html>`

func TestBoardAdapter_WeWorkRemotely(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/remote-jobs/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("term"))
		_, _ = w.Write([]byte(wwrPage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewWeWorkRemotelyAdapter(srv.URL)
	batch, err := a.Fetch(testCtx(t), Query{Text: "golang"})
	require.NoError(t, err)

	require.Len(t, batch.Jobs, 1)
	assert.Equal(t, 1, batch.Skipped)
	j := batch.Jobs[0]
	assert.Equal(t, job.IdentityKey("weworkremotely:acme-go-engineer"), j.Key)
	assert.Equal(t, srv.URL+"/remote-jobs/acme-go-engineer", j.ApplyURL)
	assert.True(t, j.Remote)
}

func TestBoardAdapter_BaytUsesIDAttribute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/en/egypt/jobs/python-jobs/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><ul>
<li data-js-job data-job-id="555"><h2><a href="/en/egypt/jobs/python-developer-555/">Python Developer</a></h2><b class="jb-company">Nile Soft</b><span class="jb-loc">Cairo, Egypt</span></li>
</ul></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	batch, err := NewBaytAdapter(srv.URL).Fetch(testCtx(t), Query{Text: "python", Location: "Egypt"})
	require.NoError(t, err)
	require.Len(t, batch.Jobs, 1)
	assert.Equal(t, job.IdentityKey("bayt:555"), batch.Jobs[0].Key)
	assert.Equal(t, "Cairo, Egypt", batch.Jobs[0].LocationText())
	assert.False(t, batch.Jobs[0].Remote)
}

func TestBoardAdapter_NotFoundIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewTanqeebAdapter(srv.URL).Fetch(testCtx(t), Query{Text: "java"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestWellfoundBuild(t *testing.T) {
	a := NewWellfoundAdapter()
	batch := a.build([]wellfoundCard{
		{ID: "9", Title: "Backend Engineer", Company: "Rocket", Href: "/jobs/9-backend"},
		{ID: "", Title: "", Company: "Rocket", Href: "/jobs/10"},
	}, Query{RemoteOnly: true})

	require.Len(t, batch.Jobs, 1)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, "https://wellfound.com/jobs/9-backend", batch.Jobs[0].ApplyURL)
	assert.True(t, batch.Jobs[0].Remote)
}

func TestRegistry_SourcesFor(t *testing.T) {
	r := NewDefaultRegistry(false)

	local := subscriber.Profile{Language: subscriber.LanguageLocal, Location: subscriber.LocationSpecific}
	assert.Equal(t, []string{"bayt", "tanqeeb", "wuzzuf"}, r.SourcesFor(local))

	localRemote := subscriber.Profile{Language: subscriber.LanguageLocal, Location: subscriber.LocationRemote}
	assert.Equal(t, []string{"bayt", "remoteok", "remotive", "tanqeeb", "weworkremotely", "wuzzuf"}, r.SourcesFor(localRemote))

	global := subscriber.Profile{Language: subscriber.LanguageGlobal, Location: subscriber.LocationSpecific}
	assert.Equal(t, []string{"googlejobs", "remoteok", "remotive", "weworkremotely"}, r.SourcesFor(global))
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewDefaultRegistry(false)
	_, err := r.Resolve([]string{"remoteok", "nope"})
	assert.True(t, errors.Is(err, ErrUnknownSource))

	all, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}
