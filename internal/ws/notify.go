package ws

import (
	"time"
)

const (
	EventJobsUpdated      = "jobs_updated"
	EventNotificationSent = "notification_sent"
	EventLinksChecked     = "links_checked"
)

type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewEvent(kind string, at time.Time, data map[string]any) Event {
	return Event{Type: kind, Timestamp: at.UTC().Format(time.RFC3339), Data: data}
}

// Publisher is what the core services see of the hub.
type Publisher interface {
	Publish(evt Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
