// Package detection turns per-frame face observations into drowsiness and
// absence episodes.
package detection

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"driveguard/internal/alert"
	"driveguard/internal/ear"
	"driveguard/internal/events"
	"driveguard/internal/location"
)

const (
	detailDrowsy      = "Driver is drowsy"
	detailAwake       = "Driver is awake"
	detailAbsent      = "Driver not detected"
	detailPresent     = "Driver detected again"
	detailInterrupted = "Drowsy episode interrupted by driver absence"
)

// Emitter receives every event the machine produces
type Emitter interface {
	Emit(ev events.Event) error
}

// AlertSetter switches the audible alert
type AlertSetter interface {
	Set(kind alert.Kind)
}

// Machine is the detection state machine. It is the single owner of the
// presence and alertness state, both debounce streaks and the episode timers.
// Entering Drowsy or Absent requires a sustained streak; leaving either
// happens on the first contradicting frame.
type Machine struct {
	// tickMu serializes ticks so alerts and events leave in order; mu guards
	// the state below and is never held while calling out.
	tickMu sync.Mutex
	mu     sync.Mutex

	opts     Options
	clock    clock.Clock
	emitter  Emitter
	alerts   AlertSetter
	location location.Location
	logger   *zap.SugaredLogger

	presence     Presence
	alertness    Alertness
	lowEAR       streak
	missingFace  streak
	drowsyStart  time.Time
	absenceStart time.Time
	lastEAR      *float64
	ticks        uint64

	pendingAlerts []alert.Kind
}

// NewMachine creates a machine in Present+Awake. emitter and alerts may be nil.
func NewMachine(opts Options, clk clock.Clock, emitter Emitter, alerts AlertSetter, loc location.Location, logger *zap.SugaredLogger) (*Machine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Machine{
		opts:      opts,
		clock:     clk,
		emitter:   emitter,
		alerts:    alerts,
		location:  loc,
		logger:    logger,
		presence:  Present,
		alertness: Awake,
	}, nil
}

// Configure replaces the thresholds. Streaks and episode timers carry over
// and the new values apply from the next tick.
func (m *Machine) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Infow("detection options updated",
		"ear_threshold", opts.EARThreshold,
		"drowsy_frames", opts.DrowsyFrames,
		"absence_frames", opts.AbsenceFrames,
		"emit_interrupted_episodes", opts.EmitInterruptedEpisodes)
	m.opts = opts
	return nil
}

// Options returns the active thresholds
func (m *Machine) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// ProcessTick advances the machine by one frame and returns the events
// produced, in emission order. Presence is evaluated before alertness.
func (m *Machine) ProcessTick(obs FrameObservation) []events.Event {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	now := m.clock.Now()
	m.ticks++

	var out []events.Event
	if obs.FaceDetected {
		out = m.faceSeen(now, out)
		out = m.evaluateEyes(obs, now, out)
	} else {
		out = m.faceMissing(now, out)
	}

	alerts := m.pendingAlerts
	m.pendingAlerts = nil
	m.mu.Unlock()

	if m.alerts != nil {
		for _, kind := range alerts {
			m.alerts.Set(kind)
		}
	}
	m.emit(out)
	return out
}

func (m *Machine) faceMissing(now time.Time, out []events.Event) []events.Event {
	m.missingFace.Hit()
	if m.presence == Absent || !m.missingFace.Satisfied(m.opts.AbsenceFrames) {
		return out
	}

	if m.alertness == Drowsy {
		if m.opts.EmitInterruptedEpisodes {
			out = append(out, m.closeEpisode(events.KindDrowsinessInterrupted, detailInterrupted, m.drowsyStart, now))
		}
		m.alertness = Awake
		m.drowsyStart = time.Time{}
	}
	m.lowEAR.Reset()
	m.lastEAR = nil

	m.presence = Absent
	m.absenceStart = now
	out = append(out, events.New(events.KindDriverAbsence, detailAbsent, now, 0, m.location))
	m.setAlert(alert.Absence)

	m.logger.Infow("driver absent", "missing_frames", m.missingFace.Len())
	return out
}

func (m *Machine) faceSeen(now time.Time, out []events.Event) []events.Event {
	if m.presence == Absent {
		m.presence = Present
		out = append(out, m.closeEpisode(events.KindDriverPresence, detailPresent, m.absenceStart, now))
		m.absenceStart = time.Time{}
		m.setAlert(alert.None)
		m.logger.Infow("driver present again", "absent_seconds", out[len(out)-1].DurationSeconds)
	}
	m.missingFace.Reset()
	return out
}

func (m *Machine) evaluateEyes(obs FrameObservation, now time.Time, out []events.Event) []events.Event {
	value, ok := ear.Combined(obs.LeftEye, obs.RightEye)
	if !ok {
		// No usable eye signal: the low-EAR streak neither advances nor resets.
		return out
	}
	m.lastEAR = &value

	if value >= m.opts.EARThreshold {
		m.lowEAR.Reset()
		if m.alertness == Drowsy {
			m.alertness = Awake
			out = append(out, m.closeEpisode(events.KindAlert, detailAwake, m.drowsyStart, now))
			m.drowsyStart = time.Time{}
			m.setAlert(alert.None)
			m.logger.Infow("driver awake", "drowsy_seconds", out[len(out)-1].DurationSeconds)
		}
		return out
	}

	m.lowEAR.Hit()
	if m.alertness == Awake && m.lowEAR.Satisfied(m.opts.DrowsyFrames) {
		m.alertness = Drowsy
		m.drowsyStart = now
		out = append(out, events.New(events.KindDrowsiness, detailDrowsy, now, 0, m.location))
		m.setAlert(alert.Drowsy)
		m.logger.Infow("driver drowsy", "ear", value, "low_frames", m.lowEAR.Len())
	}
	return out
}

// closeEpisode builds the event ending an episode that began at start
func (m *Machine) closeEpisode(kind events.Kind, detail string, start, now time.Time) events.Event {
	seconds, anomalous := episodeSeconds(start, now)
	if anomalous {
		m.logger.Warnw("negative episode duration clamped to zero",
			"kind", kind, "start", start, "end", now)
	}

	ev := events.New(kind, detail, now, seconds, m.location)
	ev.Anomalous = anomalous
	return ev
}

// episodeSeconds returns end-start in seconds rounded to two decimals.
// A negative span is clamped to zero and reported as anomalous.
func episodeSeconds(start, end time.Time) (float64, bool) {
	if start.IsZero() {
		return 0, false
	}
	d := end.Sub(start).Seconds()
	if d < 0 {
		return 0, true
	}
	return math.Round(d*100) / 100, false
}

// setAlert queues an alert change for delivery once the tick releases mu
func (m *Machine) setAlert(kind alert.Kind) {
	m.pendingAlerts = append(m.pendingAlerts, kind)
}

func (m *Machine) emit(out []events.Event) {
	if m.emitter == nil {
		return
	}
	for _, ev := range out {
		if err := m.emitter.Emit(ev); err != nil {
			m.logger.Warnw("event not delivered", "kind", ev.Kind, "error", err)
		}
	}
}

// Snapshot returns a copy of the current state
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{
		Presence:          m.presence,
		Alertness:         m.alertness,
		LowEARStreak:      m.lowEAR.Len(),
		MissingFaceStreak: m.missingFace.Len(),
		Ticks:             m.ticks,
		Options:           m.opts,
	}
	if !m.drowsyStart.IsZero() {
		t := m.drowsyStart
		s.DrowsySince = &t
	}
	if !m.absenceStart.IsZero() {
		t := m.absenceStart
		s.AbsentSince = &t
	}
	if m.lastEAR != nil {
		v := *m.lastEAR
		s.LastEAR = &v
	}
	return s
}

// String is a compact one-line state description
func (s State) String() string {
	if s.Presence == Absent {
		return fmt.Sprintf("absent (missing=%d)", s.MissingFaceStreak)
	}
	return fmt.Sprintf("present/%s (low_ear=%d)", s.Alertness, s.LowEARStreak)
}
