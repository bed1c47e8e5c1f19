package services

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"driveguard/internal/alert"
	"driveguard/internal/detection"
	"driveguard/internal/events"
	"driveguard/internal/location"
	"driveguard/internal/pipeline"
)

// StateSource exposes the detection machine state
type StateSource interface {
	Snapshot() detection.State
}

// RunnerStatus exposes the detection loop
type RunnerStatus interface {
	Running() bool
	Stats() pipeline.Stats
}

// EmitterStatus exposes event delivery counters
type EmitterStatus interface {
	Stats() events.EmitterStats
}

// AlertStatus exposes the active alert
type AlertStatus interface {
	Current() alert.Kind
}

// LocationInfo is the resolved location in API form
type LocationInfo struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Place     *string  `json:"location"`
}

// SystemStatus is the overall status report
type SystemStatus struct {
	State            detection.State      `json:"state"`
	Summary          string               `json:"summary"`
	Alert            alert.Kind           `json:"alert"`
	Running          bool                 `json:"running"`
	Runner           pipeline.Stats       `json:"runner"`
	Delivery         *events.EmitterStats `json:"delivery,omitempty"`
	Location         LocationInfo         `json:"location"`
	WebsocketClients int                  `json:"websocket_clients"`
	UptimeSeconds    int                  `json:"uptime_seconds"`
}

// StatusDeps are the components the status report is assembled from.
// Nil fields are left out of the report.
type StatusDeps struct {
	Machine  StateSource
	Runner   RunnerStatus
	Emitter  EmitterStatus
	Alerts   AlertStatus
	Location location.Location
	Clients  func() int
	Clock    clock.Clock
}

// StatusImplementation implements the status service
type StatusImplementation struct {
	deps      StatusDeps
	startTime time.Time
}

// NewStatusService creates a new status service implementation
func NewStatusService(deps StatusDeps) *StatusImplementation {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &StatusImplementation{
		deps:      deps,
		startTime: deps.Clock.Now(),
	}
}

// Status returns the overall system status
func (s *StatusImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		Alert: alert.None,
		Location: LocationInfo{
			Latitude:  s.deps.Location.Latitude(),
			Longitude: s.deps.Location.Longitude(),
			Place:     s.deps.Location.PlaceName(),
		},
		UptimeSeconds: int(s.deps.Clock.Since(s.startTime).Seconds()),
	}

	if s.deps.Machine != nil {
		status.State = s.deps.Machine.Snapshot()
		status.Summary = status.State.String()
	}
	if s.deps.Runner != nil {
		status.Running = s.deps.Runner.Running()
		status.Runner = s.deps.Runner.Stats()
	}
	if s.deps.Emitter != nil {
		stats := s.deps.Emitter.Stats()
		status.Delivery = &stats
	}
	if s.deps.Alerts != nil {
		status.Alert = s.deps.Alerts.Current()
	}
	if s.deps.Clients != nil {
		status.WebsocketClients = s.deps.Clients()
	}
	return status, nil
}
