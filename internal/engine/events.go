package engine

import "AI-Adventure/server/internal/models"

// EventType names a session change pushed to listeners
type EventType string

const (
	EventTurnCommitted EventType = "turn_committed"
	EventImageReady    EventType = "image_ready"
	EventImageFailed   EventType = "image_failed"
	EventSessionReset  EventType = "session_reset"
)

// Event is a notification about one session
type Event struct {
	Type        EventType          `json:"type"`
	SessionID   string             `json:"-"`
	Turn        int                `json:"turn"`
	ImageStatus models.ImageStatus `json:"image_status,omitempty"`
	ImageURL    string             `json:"image_url,omitempty"`
}

// Notifier receives session events. Notify must not block.
type Notifier interface {
	Notify(event Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
