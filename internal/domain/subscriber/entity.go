package subscriber

import (
	"fmt"
	"strings"
	"time"

	"jobpulse/internal/domain/job"
)

type LanguagePreference string

const (
	LanguageLocal  LanguagePreference = "local"
	LanguageGlobal LanguagePreference = "global"
	LanguageBoth   LanguagePreference = "both"
)

type LocationPreference string

const (
	LocationSpecific LocationPreference = "specific"
	LocationRemote   LocationPreference = "remote"
	LocationBoth     LocationPreference = "both"
)

// TimeOfDay is a wall-clock minute in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant of t on the UTC calendar day of ref.
func (t TimeOfDay) On(ref time.Time) time.Time {
	ref = ref.UTC()
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

type Profile struct {
	ID                  string
	ChannelID           string
	DisplayName         string
	Language            LanguagePreference
	Location            LocationPreference
	PreferredCountry    string
	Skills              []string
	JobTypes            []job.Type
	Frequency           int
	DeliveryTimes       []TimeOfDay
	OnboardingCompleted bool
	Active              bool
	CreatedAt           time.Time
}

// PrimarySkills returns the first n skills, normalized.
func (p Profile) PrimarySkills(n int) []string {
	out := make([]string, 0, n)
	for _, s := range p.Skills {
		if len(out) >= n {
			break
		}
		s = NormalizeSkill(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Eligible reports whether the subscriber may receive scheduled deliveries.
func (p Profile) Eligible() bool {
	return p.Active && p.OnboardingCompleted
}

func NormalizeSkill(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
