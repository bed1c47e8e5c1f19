package detection

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/alert"
	"driveguard/internal/ear"
	"driveguard/internal/events"
	"driveguard/internal/location"
)

const tick = 40 * time.Millisecond

type fakeEmitter struct {
	events []events.Event
	err    error
}

func (f *fakeEmitter) Emit(ev events.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

type fakeAlerts struct {
	calls []alert.Kind
}

func (f *fakeAlerts) Set(kind alert.Kind) { f.calls = append(f.calls, kind) }

// eyeWithEAR builds a contour whose EAR is exactly v
func eyeWithEAR(v float64) *ear.Contour {
	h := v * 10 // width is 10, two lids of height h give EAR h/10
	c := ear.Contour{
		{X: 0, Y: 0},
		{X: 3, Y: h / 2},
		{X: 7, Y: h / 2},
		{X: 10, Y: 0},
		{X: 7, Y: -h / 2},
		{X: 3, Y: -h / 2},
	}
	return &c
}

func open() FrameObservation {
	return FrameObservation{FaceDetected: true, LeftEye: eyeWithEAR(0.3), RightEye: eyeWithEAR(0.3)}
}

func closed() FrameObservation {
	return FrameObservation{FaceDetected: true, LeftEye: eyeWithEAR(0.1), RightEye: eyeWithEAR(0.1)}
}

func noFace() FrameObservation {
	return FrameObservation{}
}

type harness struct {
	t       *testing.T
	m       *Machine
	clock   *clock.Mock
	emitter *fakeEmitter
	alerts  *fakeAlerts
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   clock.NewMock(),
		emitter: &fakeEmitter{},
		alerts:  &fakeAlerts{},
	}
	m, err := NewMachine(opts, h.clock, h.emitter, h.alerts, location.Unknown(), nil)
	require.NoError(t, err)
	h.m = m
	return h
}

// feed advances the clock by one tick before each observation
func (h *harness) feed(obs FrameObservation, n int) []events.Event {
	var out []events.Event
	for i := 0; i < n; i++ {
		h.clock.Add(tick)
		out = append(out, h.m.ProcessTick(obs)...)
	}
	return out
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

func TestMachine_InitialState(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	s := h.m.Snapshot()
	assert.Equal(t, Present, s.Presence)
	assert.Equal(t, Awake, s.Alertness)
	assert.Zero(t, s.LowEARStreak)
	assert.Zero(t, s.MissingFaceStreak)
	assert.Nil(t, s.DrowsySince)
	assert.Nil(t, s.AbsentSince)
}

func TestMachine_SingleBlinkIgnored(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	var out []events.Event
	for i := 0; i < 50; i++ {
		out = append(out, h.feed(open(), 5)...)
		out = append(out, h.feed(closed(), 1)...)
	}

	assert.Empty(t, out)
	assert.Empty(t, h.alerts.calls)
	assert.Equal(t, Awake, h.m.Snapshot().Alertness)
}

func TestMachine_DrowsyAfterExactStreak(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	assert.Empty(t, h.feed(closed(), 19))
	out := h.feed(closed(), 1)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDrowsiness, out[0].Kind)
	assert.Equal(t, "Driver is drowsy", out[0].Detail)
	assert.Zero(t, out[0].DurationSeconds)

	// Staying closed does not repeat the event.
	assert.Empty(t, h.feed(closed(), 100))
	assert.Equal(t, []alert.Kind{alert.Drowsy}, h.alerts.calls)
	assert.Equal(t, Drowsy, h.m.Snapshot().Alertness)
}

func TestMachine_DrowsyThenAwake(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	out := h.feed(closed(), 25)
	out = append(out, h.feed(open(), 1)...)

	require.Equal(t, []events.Kind{events.KindDrowsiness, events.KindAlert}, kinds(out))
	assert.Zero(t, out[0].DurationSeconds)
	assert.Equal(t, "Driver is awake", out[1].Detail)
	// Drowsy from the 20th closed frame to the open frame: 6 ticks.
	assert.InDelta(t, 0.24, out[1].DurationSeconds, 1e-9)
	assert.Greater(t, out[1].DurationSeconds, 0.0)

	assert.Equal(t, []alert.Kind{alert.Drowsy, alert.None}, h.alerts.calls)
	assert.Equal(t, kinds(out), kinds(h.emitter.events))

	s := h.m.Snapshot()
	assert.Equal(t, Awake, s.Alertness)
	assert.Zero(t, s.LowEARStreak)
	assert.Nil(t, s.DrowsySince)
}

func TestMachine_NoEyeSignalIsNeutral(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	h.feed(closed(), 10)
	h.feed(FrameObservation{FaceDetected: true}, 5)
	assert.Equal(t, 10, h.m.Snapshot().LowEARStreak)

	degenerate := &ear.Contour{}
	h.feed(FrameObservation{FaceDetected: true, LeftEye: degenerate}, 5)
	assert.Equal(t, 10, h.m.Snapshot().LowEARStreak)

	out := h.feed(closed(), 10)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDrowsiness, out[0].Kind)
}

func TestMachine_OneEyeIsEnough(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	out := h.feed(FrameObservation{FaceDetected: true, RightEye: eyeWithEAR(0.1)}, 20)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDrowsiness, out[0].Kind)

	out = h.feed(FrameObservation{FaceDetected: true, LeftEye: eyeWithEAR(0.4)}, 1)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindAlert, out[0].Kind)
}

func TestMachine_Absence(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	assert.Empty(t, h.feed(noFace(), 29))
	out := h.feed(noFace(), 1)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDriverAbsence, out[0].Kind)
	assert.Equal(t, "Driver not detected", out[0].Detail)
	assert.Zero(t, out[0].DurationSeconds)
	assert.Equal(t, []alert.Kind{alert.Absence}, h.alerts.calls)

	assert.Empty(t, h.feed(noFace(), 50))
	assert.Equal(t, Absent, h.m.Snapshot().Presence)
}

// reentrantAlerts reads the machine back from inside Set
type reentrantAlerts struct {
	m      *Machine
	states []State
}

func (r *reentrantAlerts) Set(kind alert.Kind) {
	r.states = append(r.states, r.m.Snapshot())
	_ = r.m.Options()
}

func TestMachine_AlertSetterMayReadState(t *testing.T) {
	alerts := &reentrantAlerts{}
	m, err := NewMachine(Options{EARThreshold: 0.25, DrowsyFrames: 2, AbsenceFrames: 2}, clock.NewMock(), nil, alerts, location.Unknown(), nil)
	require.NoError(t, err)
	alerts.m = m

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, obs := range []FrameObservation{closed(), closed(), noFace(), noFace(), open()} {
			m.ProcessTick(obs)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessTick deadlocked calling the alert setter")
	}

	require.Len(t, alerts.states, 3)
	assert.Equal(t, Drowsy, alerts.states[0].Alertness)
	assert.Equal(t, Absent, alerts.states[1].Presence)
	assert.Equal(t, Awake, alerts.states[1].Alertness)
	assert.Equal(t, Present, alerts.states[2].Presence)
}

func TestMachine_PresenceDuration(t *testing.T) {
	for _, n := range []int{1, 10, 75} {
		h := newHarness(t, DefaultOptions())
		h.feed(noFace(), 30)

		h.feed(noFace(), n-1)
		out := h.feed(open(), 1)

		require.Len(t, out, 1)
		assert.Equal(t, events.KindDriverPresence, out[0].Kind)
		assert.Equal(t, "Driver detected again", out[0].Detail)
		assert.InDelta(t, float64(n)*tick.Seconds(), out[0].DurationSeconds, 0.005)
		assert.Equal(t, []alert.Kind{alert.Absence, alert.None}, h.alerts.calls)

		s := h.m.Snapshot()
		assert.Equal(t, Present, s.Presence)
		assert.Zero(t, s.MissingFaceStreak)
		assert.Nil(t, s.AbsentSince)
	}
}

func TestMachine_NoAlertnessEventsWhileAbsent(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.feed(noFace(), 30)

	// Eye data without a face must not move alertness.
	obs := closed()
	obs.FaceDetected = false
	out := h.feed(obs, 40)
	obs = open()
	obs.FaceDetected = false
	out = append(out, h.feed(obs, 5)...)

	assert.Empty(t, out)
	assert.Zero(t, h.m.Snapshot().LowEARStreak)
}

func TestMachine_DrowsyToAbsent(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.feed(closed(), 20)

	out := h.feed(noFace(), 30)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDriverAbsence, out[0].Kind)
	assert.Zero(t, out[0].DurationSeconds)

	s := h.m.Snapshot()
	assert.Equal(t, Absent, s.Presence)
	assert.Equal(t, Awake, s.Alertness)
	assert.Nil(t, s.DrowsySince)
	assert.Zero(t, s.LowEARStreak)
	assert.Equal(t, []alert.Kind{alert.Drowsy, alert.Absence}, h.alerts.calls)

	// Coming back with open eyes produces only the presence event.
	out = h.feed(open(), 1)
	assert.Equal(t, []events.Kind{events.KindDriverPresence}, kinds(out))
}

func TestMachine_DrowsyToAbsentInterrupted(t *testing.T) {
	opts := DefaultOptions()
	opts.EmitInterruptedEpisodes = true
	h := newHarness(t, opts)
	h.feed(closed(), 20)

	out := h.feed(noFace(), 30)
	require.Equal(t, []events.Kind{events.KindDrowsinessInterrupted, events.KindDriverAbsence}, kinds(out))
	assert.InDelta(t, 1.2, out[0].DurationSeconds, 1e-9)
	assert.Zero(t, out[1].DurationSeconds)
}

func TestMachine_ReturnEvaluatesEyesSameFrame(t *testing.T) {
	opts := DefaultOptions()
	opts.DrowsyFrames = 1
	h := newHarness(t, opts)
	h.feed(noFace(), 30)

	out := h.feed(closed(), 1)
	assert.Equal(t, []events.Kind{events.KindDriverPresence, events.KindDrowsiness}, kinds(out))
	assert.Equal(t, []alert.Kind{alert.Absence, alert.None, alert.Drowsy}, h.alerts.calls)
}

func TestMachine_ShortFaceLossKeepsDrowsy(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.feed(closed(), 20)

	assert.Empty(t, h.feed(noFace(), 29))
	assert.Empty(t, h.feed(closed(), 1))
	assert.Zero(t, h.m.Snapshot().MissingFaceStreak)
	assert.Empty(t, h.feed(noFace(), 29))
	assert.Equal(t, Drowsy, h.m.Snapshot().Alertness)
}

func TestMachine_EmitterFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.emitter.err = errors.New("queue full")

	out := h.feed(closed(), 20)
	require.Len(t, out, 1)
	assert.Equal(t, Drowsy, h.m.Snapshot().Alertness)

	out = h.feed(open(), 1)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindAlert, out[0].Kind)
}

func TestMachine_NegativeDurationClamped(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.feed(closed(), 20)

	h.clock.Set(h.clock.Now().Add(-time.Minute))
	out := h.m.ProcessTick(open())

	require.Len(t, out, 1)
	assert.Equal(t, events.KindAlert, out[0].Kind)
	assert.Zero(t, out[0].DurationSeconds)
	assert.True(t, out[0].Anomalous)
}

func TestMachine_LocationAttached(t *testing.T) {
	loc := location.FromNullable(ptr(52.52), ptr(13.405), ptr("Berlin, Berlin, Germany"))
	emitter := &fakeEmitter{}
	clk := clock.NewMock()
	m, err := NewMachine(DefaultOptions(), clk, emitter, nil, loc, nil)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		clk.Add(tick)
		m.ProcessTick(noFace())
	}
	clk.Add(tick)
	m.ProcessTick(open())

	require.Len(t, emitter.events, 2)
	for _, ev := range emitter.events {
		require.NotNil(t, ev.Location.Latitude())
		assert.InDelta(t, 52.52, *ev.Location.Latitude(), 1e-9)
		assert.Equal(t, "Berlin, Berlin, Germany", *ev.Location.PlaceName())
	}
}

func TestMachine_Configure(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.feed(closed(), 5)

	require.NoError(t, h.m.Configure(Options{EARThreshold: 0.2, DrowsyFrames: 6, AbsenceFrames: 10}))
	assert.Equal(t, 5, h.m.Snapshot().LowEARStreak)

	out := h.feed(closed(), 1)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindDrowsiness, out[0].Kind)

	// Drowsy timer survives a reconfigure.
	require.NoError(t, h.m.Configure(DefaultOptions()))
	require.NotNil(t, h.m.Snapshot().DrowsySince)
	out = h.feed(open(), 1)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.04, out[0].DurationSeconds, 1e-9)

	err := h.m.Configure(Options{EARThreshold: 0, DrowsyFrames: 6, AbsenceFrames: 10})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, DefaultOptions(), h.m.Options())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"threshold one", func(o *Options) { o.EARThreshold = 1 }, false},
		{"single frame", func(o *Options) { o.DrowsyFrames, o.AbsenceFrames = 1, 1 }, false},
		{"zero threshold", func(o *Options) { o.EARThreshold = 0 }, true},
		{"negative threshold", func(o *Options) { o.EARThreshold = -0.1 }, true},
		{"threshold above one", func(o *Options) { o.EARThreshold = 1.5 }, true},
		{"NaN threshold", func(o *Options) { o.EARThreshold = math.NaN() }, true},
		{"infinite threshold", func(o *Options) { o.EARThreshold = math.Inf(1) }, true},
		{"zero drowsy frames", func(o *Options) { o.DrowsyFrames = 0 }, true},
		{"negative absence frames", func(o *Options) { o.AbsenceFrames = -3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMachine_RejectsInvalid(t *testing.T) {
	_, err := NewMachine(Options{}, nil, nil, nil, location.Unknown(), nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestEpisodeSeconds(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s, anomalous := episodeSeconds(start, start.Add(1234567*time.Microsecond))
	assert.Equal(t, 1.23, s)
	assert.False(t, anomalous)

	s, anomalous = episodeSeconds(start, start.Add(-time.Second))
	assert.Zero(t, s)
	assert.True(t, anomalous)

	s, anomalous = episodeSeconds(time.Time{}, start)
	assert.Zero(t, s)
	assert.False(t, anomalous)
}

func ptr[T any](v T) *T { return &v }
