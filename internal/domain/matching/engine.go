package matching

import (
	"sort"
	"strings"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/subscriber"
)

type Weights struct {
	Skill                float64
	Location             float64
	JobType              float64
	RecencyFull          float64
	RecencyPartial       float64
	RecencyFullWithin    time.Duration
	RecencyPartialWithin time.Duration
	MinRelevance         float64
}

// DefaultWeights is the canonical weight table.
func DefaultWeights() Weights {
	return Weights{
		Skill:                0.4,
		Location:             0.3,
		JobType:              0.2,
		RecencyFull:          0.1,
		RecencyPartial:       0.05,
		RecencyFullWithin:    24 * time.Hour,
		RecencyPartialWithin: 72 * time.Hour,
		MinRelevance:         0.6,
	}
}

type Result struct {
	Score         float64
	Skill         float64
	Location      float64
	JobType       float64
	Recency       float64
	MatchedSkills []string
	MissingSkills []string
}

func Score(j job.Job, p subscriber.Profile, w Weights, now time.Time) float64 {
	return Calculate(j, p, w, now).Score
}

// Calculate is pure: the only time input is now, compared to the job's
// ingestion timestamp for the recency tier.
func Calculate(j job.Job, p subscriber.Profile, w Weights, now time.Time) Result {
	var r Result

	ratio, matched, missing := skillOverlap(j, p.Skills)
	r.MatchedSkills = matched
	r.MissingSkills = missing
	r.Skill = w.Skill * ratio

	if locationMatches(j, p) {
		r.Location = w.Location
	}
	if jobTypeMatches(j, p) {
		r.JobType = w.JobType
	}
	r.Recency = recencyBonus(j.IngestedAt, now, w)

	r.Score = clamp01(r.Skill + r.Location + r.JobType + r.Recency)
	return r
}

func skillOverlap(j job.Job, skills []string) (float64, []string, []string) {
	profile := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = subscriber.NormalizeSkill(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		profile = append(profile, s)
	}
	if len(profile) == 0 {
		return 0, nil, nil
	}

	required := make(map[string]struct{}, len(j.RequiredSkills))
	for _, s := range j.RequiredSkills {
		if s = subscriber.NormalizeSkill(s); s != "" {
			required[s] = struct{}{}
		}
	}
	text := ""
	if len(required) == 0 {
		text = strings.ToLower(j.Title + " " + j.Description)
	}

	matched := make([]string, 0, len(profile))
	missing := make([]string, 0)
	for _, s := range profile {
		ok := false
		if len(required) > 0 {
			_, ok = required[s]
		} else {
			ok = strings.Contains(text, s)
		}
		if ok {
			matched = append(matched, s)
		} else {
			missing = append(missing, s)
		}
	}
	return float64(len(matched)) / float64(len(profile)), matched, missing
}

func locationMatches(j job.Job, p subscriber.Profile) bool {
	country := strings.ToLower(strings.TrimSpace(p.PreferredCountry))
	inCountry := country != "" && strings.Contains(strings.ToLower(j.LocationText()), country)

	switch p.Location {
	case subscriber.LocationRemote:
		return j.Remote
	case subscriber.LocationSpecific:
		return inCountry
	case subscriber.LocationBoth:
		return j.Remote || inCountry
	default:
		return false
	}
}

// jobTypeMatches gives full credit when the subscriber has no type preference.
func jobTypeMatches(j job.Job, p subscriber.Profile) bool {
	if len(p.JobTypes) == 0 {
		return true
	}
	for _, t := range p.JobTypes {
		if t == j.Type {
			return true
		}
		if t == job.TypeRemote && j.Remote {
			return true
		}
	}
	return false
}

func recencyBonus(ingested, now time.Time, w Weights) float64 {
	if ingested.IsZero() {
		return 0
	}
	age := now.Sub(ingested)
	if age < 0 {
		age = 0
	}
	switch {
	case age <= w.RecencyFullWithin:
		return w.RecencyFull
	case age <= w.RecencyPartialWithin:
		return w.RecencyPartial
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type Scored struct {
	Job    job.Job
	Result Result
}

// Rank drops inactive and broken-link jobs before scoring, keeps those at or
// above minScore and orders them by score, then freshness, then key.
func Rank(jobs []job.Job, p subscriber.Profile, w Weights, now time.Time, minScore float64) []Scored {
	out := make([]Scored, 0, len(jobs))
	for _, j := range jobs {
		if !j.Linkable() {
			continue
		}
		res := Calculate(j, p, w, now)
		if res.Score < minScore {
			continue
		}
		out = append(out, Scored{Job: j, Result: res})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Result.Score != out[b].Result.Score {
			return out[a].Result.Score > out[b].Result.Score
		}
		if !out[a].Job.IngestedAt.Equal(out[b].Job.IngestedAt) {
			return out[a].Job.IngestedAt.After(out[b].Job.IngestedAt)
		}
		return out[a].Job.Key < out[b].Job.Key
	})
	return out
}
