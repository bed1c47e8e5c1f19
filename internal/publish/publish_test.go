package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/events"
	"driveguard/internal/location"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, nil)

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ev := events.New(events.KindAlert, "Driver is awake", at, 2.5, location.Unknown())
	p.OnEvent(ev)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "Alert", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var rec events.Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	assert.Equal(t, ev.ID, rec.ID)
	assert.Equal(t, 2.5, rec.DurationSeconds)
	assert.Nil(t, rec.Latitude)

	w.err = errors.New("broker down")
	p.OnEvent(ev)
	assert.Len(t, w.msgs, 2)
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	msgs []published
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, MQTTConfig{TopicPrefix: "cab/42"}, nil)

	ev := events.New(events.KindDrowsiness, "Driver is drowsy", time.Now(), 0, location.Unknown())
	p.OnEvent(ev)

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "cab/42/events", client.msgs[0].topic)
	assert.False(t, client.msgs[0].retained)
	assert.Equal(t, "cab/42/state", client.msgs[1].topic)
	assert.True(t, client.msgs[1].retained)

	var state DriverState
	require.NoError(t, json.Unmarshal(client.msgs[1].payload, &state))
	assert.Equal(t, "drowsy", state.State)
	assert.Equal(t, ev.ID, state.EventID)

	p.OnEvent(events.New(events.KindDrowsinessInterrupted, "", time.Now(), 1, location.Unknown()))
	assert.Len(t, client.msgs, 3, "interrupted episodes do not change the retained state")
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		kind  events.Kind
		state string
		ok    bool
	}{
		{events.KindDrowsiness, "drowsy", true},
		{events.KindAlert, "awake", true},
		{events.KindDriverAbsence, "absent", true},
		{events.KindDriverPresence, "awake", true},
		{events.KindDrowsinessInterrupted, "", false},
	}
	for _, tt := range tests {
		state, ok := stateFor(tt.kind)
		assert.Equal(t, tt.state, state, tt.kind)
		assert.Equal(t, tt.ok, ok, tt.kind)
	}
}
