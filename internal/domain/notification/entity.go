package notification

import (
	"fmt"
	"strings"
	"time"

	"jobpulse/internal/domain/job"

	"github.com/google/uuid"
)

type Window uint8

const (
	WindowMorning Window = iota + 1
	WindowEvening
	WindowImmediate
	WindowWeeklySummary
	WindowCustom
)

func (w Window) String() string {
	switch w {
	case WindowMorning:
		return "morning"
	case WindowEvening:
		return "evening"
	case WindowImmediate:
		return "immediate"
	case WindowWeeklySummary:
		return "weekly-summary"
	case WindowCustom:
		return "custom"
	default:
		return fmt.Sprintf("window(%d)", uint8(w))
	}
}

func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning":
		return WindowMorning, nil
	case "evening":
		return WindowEvening, nil
	case "immediate", "urgent":
		return WindowImmediate, nil
	case "weekly-summary", "weekly":
		return WindowWeeklySummary, nil
	case "custom":
		return WindowCustom, nil
	default:
		return 0, fmt.Errorf("unknown window %q", s)
	}
}

func (w Window) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Window) UnmarshalText(b []byte) error {
	v, err := ParseWindow(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Click struct {
	JobKey    job.IdentityKey
	ClickedAt time.Time
}

type Record struct {
	ID           uuid.UUID
	SubscriberID string
	Window       Window
	Day          time.Time
	JobKeys      []job.IdentityKey
	SentAt       time.Time
	Clicks       []Click
}

func (r Record) Clicked(key job.IdentityKey) bool {
	for _, c := range r.Clicks {
		if c.JobKey == key {
			return true
		}
	}
	return false
}

type SlotKey struct {
	SubscriberID string
	Window       Window
	Day          time.Time
}

func NewSlotKey(subscriberID string, w Window, at time.Time) SlotKey {
	return SlotKey{SubscriberID: subscriberID, Window: w, Day: DayOf(at)}
}

func (k SlotKey) String() string {
	return k.SubscriberID + "/" + k.Window.String() + "/" + k.Day.Format("2006-01-02")
}

type SlotStatus string

const (
	SlotComposing SlotStatus = "composing"
	SlotSent      SlotStatus = "sent"
	SlotFailed    SlotStatus = "failed"
	SlotSkipped   SlotStatus = "skipped"
	SlotBlocked   SlotStatus = "blocked"
)

type Slot struct {
	Key       SlotKey
	Status    SlotStatus
	Attempts  int
	ClaimedAt time.Time
	LastError string
}

type ClaimOutcome int

const (
	ClaimGranted ClaimOutcome = iota
	ClaimAlreadySent
	ClaimInFlight
	ClaimCapReached
	ClaimExhausted
	ClaimClosed
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimGranted:
		return "granted"
	case ClaimAlreadySent:
		return "already_sent"
	case ClaimInFlight:
		return "in_flight"
	case ClaimCapReached:
		return "cap_reached"
	case ClaimExhausted:
		return "attempts_exhausted"
	case ClaimClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ClaimRequest struct {
	Key         SlotKey
	MaxDaily    int
	MaxAttempts int
	Lease       time.Duration
	Now         time.Time
}

type Stats struct {
	Notifications int `json:"notifications"`
	JobsSent      int `json:"jobs_sent"`
	JobsClicked   int `json:"jobs_clicked"`
}

// Payload is a rendered message ready for a Sender.
type Payload struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	JobKeys []job.IdentityKey `json:"job_keys"`
	Window  Window            `json:"window"`
	Empty   bool              `json:"empty"`
}
