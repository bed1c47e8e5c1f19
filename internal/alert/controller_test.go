package alert

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	plays   []string
	stops   int
	playErr error
}

func (p *fakePlayer) Play(tone string) error {
	p.plays = append(p.plays, tone)
	return p.playErr
}

func (p *fakePlayer) Stop() error {
	p.stops++
	return nil
}

func TestController_Idempotent(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, DefaultTones(), nil)

	c.Set(Drowsy)
	c.Set(Drowsy)

	assert.Equal(t, []string{"sounds/alert_sound.wav"}, player.plays)
	assert.Zero(t, player.stops)
	assert.Equal(t, Drowsy, c.Current())
}

func TestController_NoneWhenIdle(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, DefaultTones(), nil)

	c.Set(None)
	c.Set("")

	assert.Empty(t, player.plays)
	assert.Zero(t, player.stops)
	assert.Equal(t, None, c.Current())
}

func TestController_Supersedes(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, DefaultTones(), nil)

	c.Set(Drowsy)
	c.Set(Absence)

	assert.Equal(t, []string{"sounds/alert_sound.wav", "sounds/alert_sound2.wav"}, player.plays)
	assert.Equal(t, 1, player.stops)
	assert.Equal(t, Absence, c.Current())

	c.Set(None)
	c.Set(None)
	assert.Equal(t, 2, player.stops)
	assert.Equal(t, None, c.Current())
}

func TestController_FailedPlayRetries(t *testing.T) {
	player := &fakePlayer{playErr: errors.New("no audio device")}
	c := NewController(player, DefaultTones(), nil)

	c.Set(Absence)
	assert.Equal(t, None, c.Current())

	player.playErr = nil
	c.Set(Absence)
	assert.Len(t, player.plays, 2)
	assert.Zero(t, player.stops)
	assert.Equal(t, Absence, c.Current())
}

func TestExecPlayer_StopKills(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	p := NewExecPlayer("sleep", nil, nil)
	require.NoError(t, p.Play("30"))
	assert.True(t, p.Playing())

	require.NoError(t, p.Stop())
	assert.False(t, p.Playing())
	assert.NoError(t, p.Stop())
}

func TestExecPlayer_FinishedProcessClears(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	p := NewExecPlayer("true", nil, nil)
	require.NoError(t, p.Play("ignored"))
	assert.Eventually(t, func() bool { return !p.Playing() }, 5*time.Second, 10*time.Millisecond)
}

func TestExecPlayer_MissingCommand(t *testing.T) {
	p := NewExecPlayer("driveguard-no-such-player", nil, nil)
	assert.Error(t, p.Play("tone.wav"))
	assert.False(t, p.Playing())
}

func TestEnsureTone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sounds", "beep.wav")

	info, err := EnsureTone(path, 880, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.InDelta(t, 0.5, info.Duration.Seconds(), 0.01)

	// Existing files are validated, not rewritten.
	stat, err := os.Stat(path)
	require.NoError(t, err)
	_, err = EnsureTone(path, 440, 2*time.Second)
	require.NoError(t, err)
	again, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), again.Size())
}

func TestEnsureTone_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a wav file"), 0o644))

	_, err := EnsureTone(path, 880, time.Second)
	assert.ErrorIs(t, err, ErrInvalidTone)

	assert.ErrorIs(t, WriteBeep(filepath.Join(t.TempDir(), "x.wav"), 0, time.Second), ErrInvalidTone)
}
