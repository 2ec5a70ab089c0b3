package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type RemoteOKAdapter struct {
	client  *http.Client
	apiBase string
	now     func() time.Time
}

func NewRemoteOKAdapter() *RemoteOKAdapter {
	return NewRemoteOKAdapterWithBaseURL("https://remoteok.com")
}

func NewRemoteOKAdapterWithBaseURL(base string) *RemoteOKAdapter {
	return &RemoteOKAdapter{
		client:  newHTTPClient(),
		apiBase: strings.TrimRight(strings.TrimSpace(base), "/"),
		now:     time.Now,
	}
}

func (a *RemoteOKAdapter) Name() string { return "remoteok" }

type remoteOKItem struct {
	ID          flexString `json:"id"`
	Position    string     `json:"position"`
	Company     string     `json:"company"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	Tags        []string   `json:"tags"`
	URL         string     `json:"url"`
	ApplyURL    string     `json:"apply_url"`
	Date        string     `json:"date"`
	SalaryMin   int        `json:"salary_min"`
	SalaryMax   int        `json:"salary_max"`
}

func (a *RemoteOKAdapter) Fetch(ctx context.Context, q Query) (Batch, error) {
	body, err := httpGetWithRetry(ctx, a.client, a.apiBase+"/api", 2)
	if err != nil {
		return Batch{}, err
	}

	// The feed is an array whose first element is a legal notice, so decode
	// items one by one and let bad ones count as skipped.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Batch{}, fmt.Errorf("%w: remoteok payload: %v", ErrSourceUnavailable, err)
	}

	b := newBatchBuilder(a.Name(), a.now())
	for _, r := range raw {
		if b.full() {
			break
		}
		var it remoteOKItem
		if err := json.Unmarshal(r, &it); err != nil {
			b.batch.Skipped++
			continue
		}
		if it.ID == "" && it.Position == "" {
			continue
		}
		if !matchesQuery(q, it.Position, it.Description, strings.Join(it.Tags, " ")) {
			continue
		}
		b.add(listing{
			NativeID:    string(it.ID),
			Title:       it.Position,
			Company:     it.Company,
			Description: stripTags(it.Description),
			Location:    pickNonEmpty(it.Location, "Remote"),
			URL:         pickNonEmpty(it.ApplyURL, it.URL),
			Tags:        it.Tags,
			Salary:      salaryRange(it.SalaryMin, it.SalaryMax, "USD"),
			Remote:      true,
			PostedAt:    parseRFC3339OrNil(it.Date),
		})
	}
	return b.result(), nil
}

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func salaryRange(min, max int, currency string) string {
	switch {
	case min > 0 && max > 0:
		return fmt.Sprintf("%d - %d %s", min, max, currency)
	case min > 0:
		return fmt.Sprintf("from %d %s", min, currency)
	case max > 0:
		return fmt.Sprintf("up to %d %s", max, currency)
	default:
		return ""
	}
}

func parseRFC3339OrNil(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
