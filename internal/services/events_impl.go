package services

import (
	"context"
	"errors"
	"time"

	"driveguard/internal/database"
	"driveguard/internal/events"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// EventStore is the read side of the event database
type EventStore interface {
	GetEvent(ctx context.Context, id string) (events.Event, error)
	ListEvents(ctx context.Context, filter database.EventFilter) ([]events.Event, error)
}

// ListPayload filters event queries. Times are RFC 3339.
type ListPayload struct {
	Kind  string
	Since string
	Until string
	Limit int
}

// EventsImplementation implements the events service
type EventsImplementation struct {
	store EventStore
}

// NewEventsService creates a new events service implementation
func NewEventsService(store EventStore) *EventsImplementation {
	return &EventsImplementation{store: store}
}

func (s *EventsImplementation) filter(p *ListPayload, limitDefault int) (database.EventFilter, error) {
	var f database.EventFilter

	if p.Kind != "" {
		k := events.Kind(p.Kind)
		if !k.Valid() {
			return f, badRequest("unknown event type %q", p.Kind)
		}
		f.Kind = k
	}

	for _, tc := range []struct {
		raw string
		dst **time.Time
		key string
	}{
		{p.Since, &f.Since, "since"},
		{p.Until, &f.Until, "until"},
	} {
		if tc.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, tc.raw)
		if err != nil {
			return f, badRequest("%s must be an RFC 3339 timestamp", tc.key)
		}
		*tc.dst = &t
	}

	switch {
	case p.Limit < 0:
		return f, badRequest("limit must not be negative")
	case p.Limit == 0:
		f.Limit = limitDefault
	case p.Limit > maxListLimit:
		f.Limit = maxListLimit
	default:
		f.Limit = p.Limit
	}
	return f, nil
}

// List returns events newest first
func (s *EventsImplementation) List(ctx context.Context, p *ListPayload) ([]events.Record, error) {
	f, err := s.filter(p, defaultListLimit)
	if err != nil {
		return nil, err
	}

	evs, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]events.Record, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Record())
	}
	return out, nil
}

// Get returns one event
func (s *EventsImplementation) Get(ctx context.Context, id string) (*events.Record, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFound("event %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	rec := ev.Record()
	return &rec, nil
}

// Summary aggregates durations per event type over the filtered events.
// Without a limit every matching event is included.
func (s *EventsImplementation) Summary(ctx context.Context, p *ListPayload) (*events.Summary, error) {
	f, err := s.filter(p, 0)
	if err != nil {
		return nil, err
	}

	evs, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	summary := events.Summarize(evs)
	return &summary, nil
}
