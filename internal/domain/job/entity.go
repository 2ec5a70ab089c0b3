package job

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LinkState string

const (
	LinkUnknown LinkState = "unknown"
	LinkWorking LinkState = "working"
	LinkBroken  LinkState = "broken"
)

func ParseLinkState(s string) LinkState {
	switch LinkState(strings.ToLower(strings.TrimSpace(s))) {
	case LinkWorking:
		return LinkWorking
	case LinkBroken:
		return LinkBroken
	default:
		return LinkUnknown
	}
}

type Type string

const (
	TypeUnspecified Type = ""
	TypeFullTime    Type = "full-time"
	TypePartTime    Type = "part-time"
	TypeContract    Type = "contract"
	TypeFreelance   Type = "freelance"
	TypeInternship  Type = "internship"
	TypeRemote      Type = "remote"
)

// ParseType maps the free-form employment labels job boards use onto Type.
func ParseType(raw string) Type {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch {
	case s == "":
		return TypeUnspecified
	case strings.Contains(s, "full"):
		return TypeFullTime
	case strings.Contains(s, "part"):
		return TypePartTime
	case strings.Contains(s, "contract"), strings.Contains(s, "temporary"):
		return TypeContract
	case strings.Contains(s, "freelance"):
		return TypeFreelance
	case strings.Contains(s, "intern"):
		return TypeInternship
	case strings.Contains(s, "remote"):
		return TypeRemote
	default:
		return TypeUnspecified
	}
}

type IdentityKey string

const fingerprintPrefix = "fp-"

// NewIdentityKey prefers the source-native id and falls back to a content
// fingerprint over title, company and source.
func NewIdentityKey(source, nativeID, title, company string) IdentityKey {
	source = strings.ToLower(strings.TrimSpace(source))
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		nativeID = Fingerprint(title, company, source)
	}
	return IdentityKey(source + ":" + nativeID)
}

func Fingerprint(title, company, source string) string {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	sum := sha1.Sum([]byte(norm(title) + "_" + norm(company) + "_" + norm(source)))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:16]
}

func (k IdentityKey) String() string { return string(k) }

func (k IdentityKey) Source() string {
	s, _, _ := strings.Cut(string(k), ":")
	return s
}

func (k IdentityKey) IsFingerprint() bool {
	_, native, _ := strings.Cut(string(k), ":")
	return strings.HasPrefix(native, fingerprintPrefix)
}

type Job struct {
	ID             uuid.UUID
	Key            IdentityKey
	Source         string
	NativeID       string
	Title          string
	Company        string
	Description    string
	Location       *string
	Remote         bool
	RequiredSkills []string
	Type           Type
	SalaryRange    *string
	ApplyURL       string
	LinkState      LinkState
	LinkCheckedAt  *time.Time
	Active         bool
	PostedAt       *time.Time
	IngestedAt     time.Time
}

func (j Job) LocationText() string {
	if j.Location == nil {
		return ""
	}
	return *j.Location
}

// Linkable reports whether the job may be shown to subscribers.
func (j Job) Linkable() bool {
	return j.Active && j.LinkState != LinkBroken
}

type Filter struct {
	Source           string
	SkillsAny        []string
	WithoutSkills    bool
	Remote           *bool
	NeedsCheckBefore *time.Time
	LinkState        LinkState
	ExcludeBroken    bool
	ActiveOnly       bool
	IngestedAfter    *time.Time
	ExcludeKeys      []IdentityKey
	Limit            int
}
