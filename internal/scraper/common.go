package scraper

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/search"

	"github.com/google/uuid"
)

const (
	userAgent        = "Mozilla/5.0 (compatible; JobPulseBot/1.0; +https://jobpulse.dev/bot)"
	maxResponseBytes = 5 << 20
	defaultTimeout   = 10 * time.Second
)

// listing is the raw shape every adapter produces before normalization.
type listing struct {
	NativeID    string
	Title       string
	Company     string
	Description string
	Location    string
	URL         string
	JobType     string
	Salary      string
	Tags        []string
	Remote      bool
	PostedAt    *time.Time
}

func (l listing) normalize(source string, now time.Time) (job.Job, error) {
	title := cleanText(l.Title)
	if title == "" {
		return job.Job{}, fmt.Errorf("%w: empty title", ErrMalformedListing)
	}
	applyURL := normalizeURL(l.URL)
	if !validURL(applyURL) {
		return job.Job{}, fmt.Errorf("%w: bad url %q", ErrMalformedListing, l.URL)
	}
	company := cleanText(l.Company)
	if company == "" {
		company = "Unknown"
	}
	desc := cleanText(l.Description)

	var loc *string
	if s := cleanText(l.Location); s != "" {
		loc = &s
	}
	remote := l.Remote || mentionsRemote(l.Location) || mentionsRemote(title)

	var salary *string
	if s := cleanText(l.Salary); s != "" {
		salary = &s
	}

	jt := job.ParseType(l.JobType)
	if jt == job.TypeUnspecified && remote && strings.Contains(strings.ToLower(l.JobType), "remote") {
		jt = job.TypeRemote
	}

	return job.Job{
		ID:             uuid.New(),
		Key:            job.NewIdentityKey(source, l.NativeID, title, company),
		Source:         source,
		NativeID:       strings.TrimSpace(l.NativeID),
		Title:          title,
		Company:        company,
		Description:    desc,
		Location:       loc,
		Remote:         remote,
		RequiredSkills: search.ExtractSkills(title+" "+desc, l.Tags...),
		Type:           jt,
		SalaryRange:    salary,
		ApplyURL:       applyURL,
		LinkState:      job.LinkUnknown,
		Active:         true,
		PostedAt:       l.PostedAt,
		IngestedAt:     now.UTC(),
	}, nil
}

// batchBuilder caps a fetch at MaxListingsPerFetch, drops in-batch duplicates
// and counts malformed listings.
type batchBuilder struct {
	source string
	now    time.Time
	seen   map[job.IdentityKey]struct{}
	batch  Batch
}

func newBatchBuilder(source string, now time.Time) *batchBuilder {
	return &batchBuilder{source: source, now: now, seen: map[job.IdentityKey]struct{}{}}
}

func (b *batchBuilder) full() bool {
	return len(b.batch.Jobs) >= MaxListingsPerFetch
}

func (b *batchBuilder) add(l listing) {
	if b.full() {
		return
	}
	j, err := l.normalize(b.source, b.now)
	if err != nil {
		b.batch.Skipped++
		return
	}
	if _, ok := b.seen[j.Key]; ok {
		return
	}
	b.seen[j.Key] = struct{}{}
	b.batch.Jobs = append(b.batch.Jobs, j)
}

func (b *batchBuilder) result() Batch {
	return b.batch
}

func matchesQuery(q Query, fields ...string) bool {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return true
	}
	hay := strings.ToLower(strings.Join(fields, " "))
	for _, w := range strings.Fields(text) {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	return true
}

func httpGetWithRetry(ctx context.Context, client *http.Client, rawURL string, attempts int) ([]byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, retry, err := httpGetOnce(ctx, client, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
		if i < attempts-1 {
			if err := sleepCtx(ctx, time.Duration(300*(i+1))*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

func httpGetOnce(ctx context.Context, client *http.Client, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	for k, v := range httpHeaders() {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("status %d", resp.StatusCode)
	}
	b, err := readAllLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, true, err
	}
	return b, false, nil
}

func readAllLimit(r io.Reader, max int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: max}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if lr.N <= 0 {
		return nil, fmt.Errorf("response too large")
	}
	return b, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func httpHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept-Language": "en-US,en;q=0.9,ar;q=0.8",
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

func hostFromBaseURL(base, fallback string) string {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return fallback
	}
	if h, _, err := net.SplitHostPort(u.Host); err == nil {
		return h
	}
	return u.Host
}

func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return u
}

func validURL(u string) bool {
	p, err := url.Parse(u)
	if err != nil {
		return false
	}
	return (p.Scheme == "http" || p.Scheme == "https") && p.Host != ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func mentionsRemote(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "remote") || strings.Contains(s, "anywhere") || strings.Contains(s, "عن بعد")
}

func pickNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
