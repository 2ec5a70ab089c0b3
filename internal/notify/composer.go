package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/matching"
	"jobpulse/internal/domain/notification"
	"jobpulse/internal/domain/subscriber"
)

var (
	ErrMissingSection = errors.New("required section rendered empty")
	ErrNothingToSend  = errors.New("nothing to send")
	ErrNoTemplate     = errors.New("no template for window")
)

// DefaultLimits is how many jobs each window carries.
var DefaultLimits = map[notification.Window]int{
	notification.WindowMorning:       3,
	notification.WindowEvening:       3,
	notification.WindowImmediate:     2,
	notification.WindowWeeklySummary: 5,
	notification.WindowCustom:        2,
}

type RenderContext struct {
	Subscriber subscriber.Profile
	Window     notification.Window
	Jobs       []matching.Scored
	Now        time.Time
	Stats      *notification.Stats
}

// Section renders one named block. ok=false means the block has nothing to
// say; a Required section must always produce text.
type Section struct {
	Name     string
	Required bool
	Render   func(RenderContext) (text string, ok bool)
}

type Template struct {
	Title    string
	Sections []Section
}

type ComposeInput struct {
	Subscriber subscriber.Profile
	Window     notification.Window
	Ranked     []matching.Scored
	Now        time.Time
	Stats      *notification.Stats

	// AlwaysNotify sends the empty-result message regardless of the policy.
	AlwaysNotify bool
}

type Composer struct {
	templates   map[notification.Window]Template
	empty       Template
	limits      map[notification.Window]int
	emptyPolicy func(time.Time) bool
}

type Option func(*Composer)

func WithLimits(limits map[notification.Window]int) Option {
	return func(c *Composer) {
		for w, k := range limits {
			if k > 0 {
				c.limits[w] = k
			}
		}
	}
}

func WithEmptyPolicy(p func(time.Time) bool) Option {
	return func(c *Composer) { c.emptyPolicy = p }
}

func WithTemplate(w notification.Window, t Template) Option {
	return func(c *Composer) { c.templates[w] = t }
}

// EveryNHours allows an empty-result message only on hours divisible by n.
func EveryNHours(n int) func(time.Time) bool {
	if n <= 1 {
		return func(time.Time) bool { return true }
	}
	return func(now time.Time) bool { return now.UTC().Hour()%n == 0 }
}

func NewComposer(opts ...Option) *Composer {
	c := &Composer{
		templates:   defaultTemplates(),
		empty:       emptyTemplate(),
		limits:      map[notification.Window]int{},
		emptyPolicy: EveryNHours(3),
	}
	for w, k := range DefaultLimits {
		c.limits[w] = k
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composer) Limit(w notification.Window) int {
	if k, ok := c.limits[w]; ok {
		return k
	}
	return 3
}

func (c *Composer) Compose(in ComposeInput) (notification.Payload, error) {
	tmpl, ok := c.templates[in.Window]
	if !ok {
		return notification.Payload{}, fmt.Errorf("%w: %s", ErrNoTemplate, in.Window)
	}

	jobs := in.Ranked
	if k := c.Limit(in.Window); len(jobs) > k {
		jobs = jobs[:k]
	}
	rc := RenderContext{
		Subscriber: in.Subscriber,
		Window:     in.Window,
		Jobs:       jobs,
		Now:        in.Now,
		Stats:      in.Stats,
	}

	empty := len(jobs) == 0
	if empty {
		if !in.AlwaysNotify && c.emptyPolicy != nil && !c.emptyPolicy(in.Now) {
			return notification.Payload{}, ErrNothingToSend
		}
		tmpl = c.empty
	}

	body, err := render(tmpl, rc)
	if err != nil {
		return notification.Payload{}, err
	}

	keys := make([]job.IdentityKey, 0, len(jobs))
	for _, s := range jobs {
		keys = append(keys, s.Job.Key)
	}
	return notification.Payload{
		Title:   tmpl.Title,
		Body:    body,
		JobKeys: keys,
		Window:  in.Window,
		Empty:   empty,
	}, nil
}

func render(t Template, rc RenderContext) (string, error) {
	parts := make([]string, 0, len(t.Sections))
	for _, s := range t.Sections {
		text, ok := s.Render(rc)
		text = strings.TrimSpace(text)
		if !ok || text == "" {
			if s.Required {
				return "", fmt.Errorf("%w: %s", ErrMissingSection, s.Name)
			}
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}
