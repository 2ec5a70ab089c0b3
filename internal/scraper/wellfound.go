package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// WellfoundAdapter renders the listing page in headless Chrome because the
// board ships its results as client-side JavaScript.
type WellfoundAdapter struct {
	siteBase string
	timeout  time.Duration
	now      func() time.Time
}

func NewWellfoundAdapter() *WellfoundAdapter {
	return &WellfoundAdapter{
		siteBase: "https://wellfound.com",
		timeout:  25 * time.Second,
		now:      time.Now,
	}
}

func (a *WellfoundAdapter) Name() string { return "wellfound" }

type wellfoundCard struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	Href     string `json:"href"`
	Kind     string `json:"kind"`
	Salary   string `json:"salary"`
}

const wellfoundExtractJS = `Array.from(document.querySelectorAll('[data-test="StartupResult"], div.styles_result__rPRNG')).flatMap(card => {
	const company = (card.querySelector('h2') || {}).textContent || '';
	return Array.from(card.querySelectorAll('a[href*="/jobs/"]')).map(a => {
		const row = a.closest('div') || a;
		const loc = row.querySelector('[class*="location"]');
		const comp = row.querySelector('[class*="compensation"]');
		const m = (a.getAttribute('href') || '').match(/\/jobs\/(\d+)/);
		return {
			id: m ? m[1] : '',
			title: (a.textContent || '').trim(),
			company: company.trim(),
			location: loc ? loc.textContent.trim() : '',
			href: a.getAttribute('href') || '',
			kind: '',
			salary: comp ? comp.textContent.trim() : ''
		};
	});
})`

func (a *WellfoundAdapter) Fetch(ctx context.Context, q Query) (Batch, error) {
	if ctx.Err() != nil {
		return Batch{}, ctx.Err()
	}
	pageURL := a.searchURL(q)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"),
		)...,
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	reqCtx, reqCancel := context.WithTimeout(browserCtx, a.timeout)
	defer reqCancel()

	var cards []wellfoundCard
	err := chromedp.Run(reqCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.EvaluateAsDevTools(wellfoundExtractJS, &cards),
	)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: wellfound: %v", ErrSourceUnavailable, err)
	}
	return a.build(cards, q), nil
}

func (a *WellfoundAdapter) searchURL(q Query) string {
	slug := strings.Join(strings.Fields(strings.ToLower(q.Text)), "-")
	if slug == "" {
		slug = "software-engineer"
	}
	path := "/role/" + url.PathEscape(slug)
	if q.RemoteOnly {
		path = "/role/r/" + url.PathEscape(slug)
	} else if loc := strings.Join(strings.Fields(strings.ToLower(q.Location)), "-"); loc != "" {
		path = "/role/l/" + url.PathEscape(slug) + "/" + url.PathEscape(loc)
	}
	return strings.TrimRight(a.siteBase, "/") + path
}

func (a *WellfoundAdapter) build(cards []wellfoundCard, q Query) Batch {
	b := newBatchBuilder(a.Name(), a.now())
	for _, c := range cards {
		if b.full() {
			break
		}
		b.add(listing{
			NativeID: c.ID,
			Title:    c.Title,
			Company:  c.Company,
			Location: c.Location,
			URL:      absoluteURL(a.siteBase, c.Href),
			JobType:  c.Kind,
			Salary:   c.Salary,
			Remote:   q.RemoteOnly,
		})
	}
	return b.result()
}
