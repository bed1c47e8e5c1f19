package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	evs := []Event{
		{Kind: KindAlert, DurationSeconds: 2},
		{Kind: KindDrowsiness},
		{Kind: KindAlert, DurationSeconds: 4},
		{Kind: KindAlert, DurationSeconds: 9, Anomalous: false},
		{Kind: KindDriverPresence, DurationSeconds: 0, Anomalous: true},
		{Kind: KindDrowsiness},
	}

	s := Summarize(evs)
	assert.Equal(t, 6, s.Total)
	require.Len(t, s.Kinds, 3)

	assert.Equal(t, KindDrowsiness, s.Kinds[0].Kind)
	assert.Equal(t, 2, s.Kinds[0].Count)
	assert.Zero(t, s.Kinds[0].MaxSeconds)

	alert := s.Kinds[1]
	assert.Equal(t, KindAlert, alert.Kind)
	assert.Equal(t, 3, alert.Count)
	assert.InDelta(t, 15.0, alert.TotalSeconds, 1e-9)
	assert.InDelta(t, 5.0, alert.MeanSeconds, 1e-9)
	assert.InDelta(t, 4.0, alert.MedianSecs, 1e-9)
	assert.InDelta(t, 9.0, alert.MaxSeconds, 1e-9)

	presence := s.Kinds[2]
	assert.Equal(t, KindDriverPresence, presence.Kind)
	assert.Equal(t, 1, presence.Anomalous)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Total)
	assert.Empty(t, s.Kinds)
}
