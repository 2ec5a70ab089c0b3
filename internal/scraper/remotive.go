package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type RemotiveAdapter struct {
	client  *http.Client
	apiBase string
	now     func() time.Time
}

func NewRemotiveAdapter() *RemotiveAdapter {
	return NewRemotiveAdapterWithBaseURL("https://remotive.com")
}

func NewRemotiveAdapterWithBaseURL(base string) *RemotiveAdapter {
	return &RemotiveAdapter{
		client:  newHTTPClient(),
		apiBase: strings.TrimRight(strings.TrimSpace(base), "/"),
		now:     time.Now,
	}
}

func (a *RemotiveAdapter) Name() string { return "remotive" }

type remotiveItem struct {
	ID                        flexString `json:"id"`
	URL                       string     `json:"url"`
	Title                     string     `json:"title"`
	CompanyName               string     `json:"company_name"`
	Category                  string     `json:"category"`
	Tags                      []string   `json:"tags"`
	JobType                   string     `json:"job_type"`
	PublicationDate           string     `json:"publication_date"`
	CandidateRequiredLocation string     `json:"candidate_required_location"`
	Salary                    string     `json:"salary"`
	Description               string     `json:"description"`
}

type remotiveResponse struct {
	Jobs []json.RawMessage `json:"jobs"`
}

func (a *RemotiveAdapter) Fetch(ctx context.Context, q Query) (Batch, error) {
	v := url.Values{}
	if s := strings.TrimSpace(q.Text); s != "" {
		v.Set("search", s)
	}
	v.Set("limit", fmt.Sprint(MaxListingsPerFetch*2))
	body, err := httpGetWithRetry(ctx, a.client, a.apiBase+"/api/remote-jobs?"+v.Encode(), 2)
	if err != nil {
		return Batch{}, err
	}

	var resp remotiveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Batch{}, fmt.Errorf("%w: remotive payload: %v", ErrSourceUnavailable, err)
	}

	loc := strings.ToLower(strings.TrimSpace(q.Location))
	b := newBatchBuilder(a.Name(), a.now())
	for _, r := range resp.Jobs {
		if b.full() {
			break
		}
		var it remotiveItem
		if err := json.Unmarshal(r, &it); err != nil {
			b.batch.Skipped++
			continue
		}
		if loc != "" && !q.RemoteOnly && !locationAccepts(it.CandidateRequiredLocation, loc) {
			continue
		}
		b.add(listing{
			NativeID:    string(it.ID),
			Title:       it.Title,
			Company:     it.CompanyName,
			Description: stripTags(it.Description),
			Location:    pickNonEmpty(it.CandidateRequiredLocation, "Remote"),
			URL:         it.URL,
			JobType:     it.JobType,
			Salary:      it.Salary,
			Tags:        append(it.Tags, it.Category),
			Remote:      true,
			PostedAt:    parseRFC3339OrNil(it.PublicationDate),
		})
	}
	return b.result(), nil
}

// locationAccepts treats worldwide postings as open to every location.
func locationAccepts(required, want string) bool {
	r := strings.ToLower(strings.TrimSpace(required))
	if r == "" || strings.Contains(r, "worldwide") || strings.Contains(r, "anywhere") {
		return true
	}
	return strings.Contains(r, want)
}
