package scraper

import (
	"net/url"
	"strings"
)

func NewWeWorkRemotelyAdapter(baseURL string) *BoardAdapter {
	return newBoardAdapter(boardSite{
		name:    "weworkremotely",
		baseURL: "https://weworkremotely.com",
		searchPath: func(q Query) string {
			return "/remote-jobs/search?term=" + url.QueryEscape(strings.TrimSpace(q.Text))
		},
		items:      []string{"section.jobs li.new-listing-container", "section.jobs li.feature", "section.jobs li"},
		title:      []string{"h4.new-listing__header__title", "span.title"},
		company:    []string{"p.new-listing__company-name", "span.company"},
		location:   []string{"p.new-listing__company-headquarters", "span.region"},
		link:       []string{"a[href*='/remote-jobs/']", "a"},
		jobType:    []string{"p.new-listing__categories__category", "span.company:nth-of-type(2)"},
		allRemote:  true,
		defaultLoc: "Remote",
	}, baseURL)
}

func NewWuzzufAdapter(baseURL string) *BoardAdapter {
	return newBoardAdapter(boardSite{
		name:    "wuzzuf",
		baseURL: "https://wuzzuf.net",
		searchPath: func(q Query) string {
			v := url.Values{}
			v.Set("q", searchText(q))
			if loc := strings.TrimSpace(q.Location); loc != "" {
				v.Set("filters[country][0]", loc)
			}
			return "/search/jobs/?" + v.Encode()
		},
		items:    []string{"div[data-search-result]", "div.css-1gatmva", "div.css-pkv5jc"},
		title:    []string{"h2 a", "h2"},
		company:  []string{"a.css-17s97q8", "div.css-d7j1kk a"},
		location: []string{"span.css-5wys0k", "div.css-d7j1kk span"},
		link:     []string{"h2 a"},
		jobType:  []string{"span.css-1ve4b75", "a.css-o171kl"},
		summary:  []string{"div.css-y4udm8"},
	}, baseURL)
}

func NewBaytAdapter(baseURL string) *BoardAdapter {
	return newBoardAdapter(boardSite{
		name:    "bayt",
		baseURL: "https://www.bayt.com",
		searchPath: func(q Query) string {
			slug := strings.Join(strings.Fields(strings.ToLower(searchText(q))), "-")
			if slug == "" {
				slug = "all"
			}
			region := "international"
			if loc := strings.ToLower(strings.TrimSpace(q.Location)); loc != "" {
				region = strings.Join(strings.Fields(loc), "-")
			}
			return "/en/" + url.PathEscape(region) + "/jobs/" + url.PathEscape(slug) + "-jobs/"
		},
		items:    []string{"li[data-js-job]", "div.has-pointer-d"},
		title:    []string{"h2 a", "h2"},
		company:  []string{"b.jb-company", "div.job-company-location-wrapper a"},
		location: []string{"span.jb-loc", "div.jb-loc", "div.job-company-location-wrapper span"},
		link:     []string{"h2 a", "a[data-js-aid='jobID']"},
		summary:  []string{"div.jb-descr"},
		idAttr:   "data-job-id",
	}, baseURL)
}

func NewTanqeebAdapter(baseURL string) *BoardAdapter {
	return newBoardAdapter(boardSite{
		name:    "tanqeeb",
		baseURL: "https://www.tanqeeb.com",
		searchPath: func(q Query) string {
			v := url.Values{}
			v.Set("keywords", searchText(q))
			if loc := strings.TrimSpace(q.Location); loc != "" {
				v.Set("country", loc)
			}
			return "/jobs/search?" + v.Encode()
		},
		items:    []string{"div.card-list-item", "a.card-list-item", "div.job-item"},
		title:    []string{"h5", "h2", "a"},
		company:  []string{"p.card-company", "span.company"},
		location: []string{"span.card-location", "span.location"},
		link:     []string{"", "a"},
		summary:  []string{"p.card-description"},
	}, baseURL)
}

func NewGoogleJobsAdapter(baseURL string) *BoardAdapter {
	return newBoardAdapter(boardSite{
		name:    "googlejobs",
		baseURL: "https://www.google.com",
		searchPath: func(q Query) string {
			term := strings.TrimSpace(q.Text + " jobs")
			if loc := strings.TrimSpace(q.Location); loc != "" {
				term += " in " + loc
			}
			if q.RemoteOnly {
				term += " remote"
			}
			v := url.Values{}
			v.Set("q", term)
			v.Set("ibp", "htl;jobs")
			return "/search?" + v.Encode()
		},
		items:       []string{"li.iFjolb", "div.PwjeAc", "div.g"},
		title:       []string{"div.BjJfJf", "h3"},
		company:     []string{"div.vNEEBe", "cite"},
		location:    []string{"div.Qk80Jf"},
		link:        []string{"a[href^='http']", "a"},
		summary:     []string{"div.HBvzbc", "span.st"},
		filterQuery: true,
	}, baseURL)
}
