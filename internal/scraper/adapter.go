package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/subscriber"
)

// MaxListingsPerFetch bounds what a single Fetch call may return.
const MaxListingsPerFetch = 20

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedListing  = errors.New("malformed listing")
	ErrUnknownSource     = errors.New("unknown source")
)

type Query struct {
	Text       string
	Location   string
	RemoteOnly bool
}

type Batch struct {
	Jobs    []job.Job
	Skipped int
}

type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Batch, error)
}

type Group string

const (
	GroupRemote Group = "remote"
	GroupLocal  Group = "local"
	GroupGlobal Group = "global"
)

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	groups   map[string]Group
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[string]Adapter{},
		groups:   map[string]Group{},
	}
}

func (r *Registry) Register(a Adapter, g Group) {
	if r == nil || a == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(a.Name()))
	r.mu.Lock()
	r.adapters[name] = a
	r.groups[name] = g
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Resolve returns the adapters for names, or all of them when names is empty.
func (r *Registry) Resolve(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]Adapter, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		a, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, n)
		}
		if _, dup := seen[a.Name()]; dup {
			continue
		}
		seen[a.Name()] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (r *Registry) Group(name string) (Group, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

func (r *Registry) InGroups(groups ...Group) []string {
	want := map[Group]struct{}{}
	for _, g := range groups {
		want[g] = struct{}{}
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.groups))
	for n, g := range r.groups {
		if _, ok := want[g]; ok {
			out = append(out, n)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SourcesFor maps a subscriber's language and location preferences onto
// source groups.
func (r *Registry) SourcesFor(p subscriber.Profile) []string {
	groups := []Group{}
	switch p.Language {
	case subscriber.LanguageLocal:
		groups = append(groups, GroupLocal)
	case subscriber.LanguageGlobal:
		groups = append(groups, GroupGlobal)
	default:
		groups = append(groups, GroupLocal, GroupGlobal)
	}
	if p.Location == subscriber.LocationRemote || p.Location == subscriber.LocationBoth || p.Language != subscriber.LanguageLocal {
		groups = append(groups, GroupRemote)
	}
	return r.InGroups(groups...)
}

// NewDefaultRegistry wires every built-in source. The headless Chrome adapter
// is only registered when a browser is available.
func NewDefaultRegistry(withChrome bool) *Registry {
	r := NewRegistry()
	r.Register(NewRemoteOKAdapter(), GroupRemote)
	r.Register(NewRemotiveAdapter(), GroupRemote)
	r.Register(NewWeWorkRemotelyAdapter(""), GroupRemote)
	r.Register(NewWuzzufAdapter(""), GroupLocal)
	r.Register(NewBaytAdapter(""), GroupLocal)
	r.Register(NewTanqeebAdapter(""), GroupLocal)
	r.Register(NewGoogleJobsAdapter(""), GroupGlobal)
	if withChrome {
		r.Register(NewWellfoundAdapter(), GroupGlobal)
	}
	return r
}
