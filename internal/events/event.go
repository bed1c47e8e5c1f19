// Package events defines the detection event record and its delivery path:
// an asynchronous Emitter feeding the persistent store and live display, and a
// Bus fanning events out to notification and forwarding subscribers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"driveguard/internal/location"
)

// Kind is the enumerated event type as stored and displayed
type Kind string

const (
	KindDrowsiness            Kind = "Drowsiness"
	KindAlert                 Kind = "Alert"
	KindDriverAbsence         Kind = "Driver Absence"
	KindDriverPresence        Kind = "Driver Presence"
	KindDrowsinessInterrupted Kind = "Drowsiness Interrupted"
)

// Kinds lists every event kind in a stable order
func Kinds() []Kind {
	return []Kind{KindDrowsiness, KindAlert, KindDriverAbsence, KindDriverPresence, KindDrowsinessInterrupted}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Degraded reports whether the kind opens a drowsy or absent episode
func (k Kind) Degraded() bool {
	return k == KindDrowsiness || k == KindDriverAbsence
}

// Event is an immutable record of a detection transition.
// DurationSeconds is 0 for point-in-time events.
type Event struct {
	ID              string
	Kind            Kind
	Detail          string
	OccurredAt      time.Time
	DurationSeconds float64
	Anomalous       bool // duration was clamped after a clock went backwards
	Location        location.Location
}

// New builds an event with a fresh ID
func New(kind Kind, detail string, at time.Time, duration float64, loc location.Location) Event {
	return Event{
		ID:              uuid.NewString(),
		Kind:            kind,
		Detail:          detail,
		OccurredAt:      at,
		DurationSeconds: duration,
		Location:        loc,
	}
}

// Store persists events (e.g. a database row insert)
type Store interface {
	Store(ctx context.Context, ev Event) error
}

// Display shows events to an operator (e.g. a live table append)
type Display interface {
	Display(ev Event) error
}

// Handler receives events published on the Bus
type Handler interface {
	OnEvent(ev Event)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ev Event)

// OnEvent implements Handler
func (f HandlerFunc) OnEvent(ev Event) { f(ev) }

// Record is the JSON form of an event used by the API and forwarders
type Record struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"event_type"`
	Detail          string    `json:"details"`
	OccurredAt      time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
	Anomalous       bool      `json:"anomalous"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	Location        *string   `json:"location"`
}

// Record converts the event to its JSON form
func (e Event) Record() Record {
	return Record{
		ID:              e.ID,
		Kind:            e.Kind,
		Detail:          e.Detail,
		OccurredAt:      e.OccurredAt,
		DurationSeconds: e.DurationSeconds,
		Anomalous:       e.Anomalous,
		Latitude:        e.Location.Latitude(),
		Longitude:       e.Location.Longitude(),
		Location:        e.Location.PlaceName(),
	}
}
