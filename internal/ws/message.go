package ws

import (
	"fmt"

	"driveguard/internal/events"
)

const (
	rowTimeLayout = "2006-01-02 15:04:05"
	notAvailable  = "N/A"
)

// EventMessage is one row of the live event table
type EventMessage struct {
	Type            string  `json:"type"` // "event"
	ID              string  `json:"id"`
	Timestamp       string  `json:"timestamp"`
	EventType       string  `json:"event_type"`
	Details         string  `json:"details"`
	DurationSeconds float64 `json:"duration_seconds"`
	Latitude        string  `json:"latitude"`
	Longitude       string  `json:"longitude"`
	Location        string  `json:"location"`
	Anomalous       bool    `json:"anomalous,omitempty"`
}

// NewEventMessage formats an event the way the table displays it:
// coordinates with four decimals, "N/A" for anything unknown.
func NewEventMessage(ev events.Event) EventMessage {
	msg := EventMessage{
		Type:            "event",
		ID:              ev.ID,
		Timestamp:       ev.OccurredAt.Format(rowTimeLayout),
		EventType:       string(ev.Kind),
		Details:         ev.Detail,
		DurationSeconds: ev.DurationSeconds,
		Latitude:        notAvailable,
		Longitude:       notAvailable,
		Location:        notAvailable,
		Anomalous:       ev.Anomalous,
	}

	if lat := ev.Location.Latitude(); lat != nil {
		msg.Latitude = fmt.Sprintf("%.4f", *lat)
	}
	if lng := ev.Location.Longitude(); lng != nil {
		msg.Longitude = fmt.Sprintf("%.4f", *lng)
	}
	if place := ev.Location.PlaceName(); place != nil {
		msg.Location = *place
	}
	return msg
}
