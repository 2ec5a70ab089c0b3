package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// boardSite describes a server-rendered job board. Every selector list is
// tried in order and the first one that yields text wins, so layout changes
// on a board degrade to skipped listings instead of failed fetches.
type boardSite struct {
	name        string
	baseURL     string
	searchPath  func(q Query) string
	items       []string
	title       []string
	company     []string
	location    []string
	link        []string
	summary     []string
	jobType     []string
	idAttr      string
	allRemote   bool
	defaultLoc  string
	filterQuery bool
}

type BoardAdapter struct {
	site        boardSite
	allowedHost string
	now         func() time.Time
}

func newBoardAdapter(site boardSite, baseURL string) *BoardAdapter {
	if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
		site.baseURL = b
	}
	return &BoardAdapter{
		site:        site,
		allowedHost: hostFromBaseURL(site.baseURL, site.name),
		now:         time.Now,
	}
}

func (a *BoardAdapter) Name() string { return a.site.name }

func (a *BoardAdapter) Fetch(ctx context.Context, q Query) (Batch, error) {
	if ctx.Err() != nil {
		return Batch{}, ctx.Err()
	}
	pageURL := a.site.baseURL + a.site.searchPath(q)

	c := colly.NewCollector(
		colly.AllowedDomains(a.allowedHost),
		colly.UserAgent(userAgent),
	)
	c.SetRequestTimeout(defaultTimeout)
	_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1})

	var doc *goquery.Selection
	var reqErr error

	c.OnRequest(func(r *colly.Request) {
		for k, v := range httpHeaders() {
			r.Headers.Set(k, v)
		}
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc = e.DOM
	})
	c.OnError(func(r *colly.Response, err error) {
		reqErr = err
		if r != nil && r.StatusCode > 0 {
			reqErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
	})

	if err := c.Visit(pageURL); err != nil {
		return Batch{}, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, a.site.name, err)
	}
	c.Wait()
	if reqErr != nil {
		return Batch{}, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, a.site.name, reqErr)
	}
	if doc == nil {
		return Batch{}, fmt.Errorf("%w: %s: empty document", ErrSourceUnavailable, a.site.name)
	}
	return a.parse(doc, pageURL, q), nil
}

func (a *BoardAdapter) parse(doc *goquery.Selection, pageURL string, q Query) Batch {
	b := newBatchBuilder(a.site.name, a.now())

	var items *goquery.Selection
	for _, sel := range a.site.items {
		items = doc.Find(sel)
		if items.Length() > 0 {
			break
		}
	}
	if items == nil {
		return b.result()
	}

	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if b.full() {
			return false
		}
		href := firstAttr(item, a.site.link, "href")
		l := listing{
			Title:       firstText(item, a.site.title),
			Company:     firstText(item, a.site.company),
			Location:    pickNonEmpty(firstText(item, a.site.location), a.site.defaultLoc),
			Description: firstText(item, a.site.summary),
			JobType:     firstText(item, a.site.jobType),
			URL:         absoluteURL(pageURL, href),
			Remote:      a.site.allRemote,
		}
		if a.site.idAttr != "" {
			l.NativeID, _ = item.Attr(a.site.idAttr)
		}
		if l.NativeID == "" {
			l.NativeID = nativeIDFromURL(l.URL)
		}
		if a.site.filterQuery && !matchesQuery(q, l.Title, l.Description) {
			return true
		}
		if q.RemoteOnly && !l.Remote && !mentionsRemote(l.Location) && !mentionsRemote(l.Title) {
			return true
		}
		b.add(l)
		return true
	})
	return b.result()
}

// firstText tries selectors in order; an empty selector means item itself.
func firstText(item *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		sel := item
		if s != "" {
			sel = item.Find(s).First()
		}
		if t := cleanText(sel.Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstAttr(item *goquery.Selection, selectors []string, attr string) string {
	for _, s := range selectors {
		sel := item
		if s != "" {
			sel = item.Find(s).First()
		}
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func nativeIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return strings.TrimSpace(parts[len(parts)-1])
}

func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return cleanText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return cleanText(s)
	}
	return cleanText(doc.Text())
}

func searchText(q Query) string {
	parts := []string{strings.TrimSpace(q.Text)}
	if q.RemoteOnly {
		parts = append(parts, "remote")
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
