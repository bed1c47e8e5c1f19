package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/detection"
	"driveguard/internal/events"
	"driveguard/internal/location"
)

type countingProcessor struct {
	mu   sync.Mutex
	seen []detection.FrameObservation
}

func (p *countingProcessor) ProcessTick(obs detection.FrameObservation) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, obs)
	if !obs.FaceDetected {
		return []events.Event{{Kind: events.KindDriverAbsence}}
	}
	return nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

type flakySource struct {
	calls int
}

func (s *flakySource) Next(ctx context.Context) (detection.FrameObservation, error) {
	s.calls++
	switch s.calls {
	case 1:
		return detection.FrameObservation{}, errors.New("camera hiccup")
	case 2:
		return detection.FrameObservation{FaceDetected: true}, nil
	}
	return detection.FrameObservation{}, io.EOF
}

func TestRunner_Step(t *testing.T) {
	proc := &countingProcessor{}
	src := NewSliceSource(detection.FrameObservation{FaceDetected: true}, detection.FrameObservation{})
	r := NewRunner(src, proc, clock.NewMock(), 0, nil)
	ctx := context.Background()

	out, err := r.Step(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = r.Step(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = r.Step(ctx)
	assert.ErrorIs(t, err, io.EOF)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Ticks)
	assert.Equal(t, uint64(1), stats.Events)
	assert.True(t, stats.Exhausted)
	assert.NotNil(t, stats.LastTickAt)
}

func TestRunner_RunUntilExhausted(t *testing.T) {
	proc := &countingProcessor{}
	obs := make([]detection.FrameObservation, 10)
	r := NewRunner(NewSliceSource(obs...), proc, clock.New(), time.Millisecond, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 10, proc.count())
	assert.False(t, r.Running())
	assert.NotNil(t, r.Stats().StartedAt)
}

func TestRunner_SourceErrorSkipsTick(t *testing.T) {
	proc := &countingProcessor{}
	r := NewRunner(&flakySource{}, proc, clock.New(), time.Millisecond, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, proc.count())
	assert.Equal(t, uint64(1), r.Stats().SourceErrors)
}

func TestRunner_Cancel(t *testing.T) {
	mock := clock.NewMock()
	r := NewRunner(NewSliceSource(), &countingProcessor{}, mock, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	assert.Error(t, r.Run(ctx), "second Run must be rejected")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Zero(t, r.Stats().Ticks)
}

func TestRunner_CancelWithIdleInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	mock := clock.NewMock()
	r := NewRunner(NewJSONLSource(pr, nil), &countingProcessor{}, mock, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.Running, time.Second, time.Millisecond)

	// Fire a tick so Step is parked in Next waiting for a line
	mock.Add(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner stayed blocked on idle input after cancel")
	}
	assert.False(t, r.Running())
}

func TestRunner_DrivesMachine(t *testing.T) {
	mock := clock.NewMock()
	m, err := detection.NewMachine(detection.DefaultOptions(), mock, nil, nil, location.Unknown(), nil)
	require.NoError(t, err)

	obs := make([]detection.FrameObservation, 30)
	r := NewRunner(NewSliceSource(obs...), m, mock, 0, nil)

	var all []events.Event
	for {
		mock.Add(DefaultInterval)
		out, err := r.Step(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		all = append(all, out...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, events.KindDriverAbsence, all[0].Kind)
	assert.Equal(t, detection.Absent, m.Snapshot().Presence)
}
