// Package alert drives the audible driver alert.
package alert

import (
	"sync"

	"go.uber.org/zap"
)

// Kind selects which tone is active
type Kind string

const (
	None    Kind = "none"
	Drowsy  Kind = "drowsy"
	Absence Kind = "absence"
)

// Player plays one tone at a time
type Player interface {
	Play(tone string) error
	Stop() error
}

// Tones maps alert kinds to sound files
type Tones struct {
	Drowsy  string `yaml:"drowsy" json:"drowsy"`
	Absence string `yaml:"absence" json:"absence"`
}

// DefaultTones returns the bundled sound paths
func DefaultTones() Tones {
	return Tones{
		Drowsy:  "sounds/alert_sound.wav",
		Absence: "sounds/alert_sound2.wav",
	}
}

func (t Tones) file(kind Kind) string {
	switch kind {
	case Drowsy:
		return t.Drowsy
	case Absence:
		return t.Absence
	}
	return ""
}

// Controller issues play/stop commands only when the requested alert
// changes. At most one tone is active; a new kind stops the old one first.
type Controller struct {
	mu      sync.Mutex
	player  Player
	tones   Tones
	current Kind
	logger  *zap.SugaredLogger
}

// NewController creates a controller with nothing playing
func NewController(player Player, tones Tones, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		player:  player,
		tones:   tones,
		current: None,
		logger:  logger,
	}
}

// Set switches the alert to kind. Repeating the current kind is a no-op.
func (c *Controller) Set(kind Kind) {
	if kind == "" {
		kind = None
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == c.current {
		return
	}

	if c.current != None {
		if err := c.player.Stop(); err != nil {
			c.logger.Warnw("failed to stop alert", "alert", c.current, "error", err)
		}
		c.current = None
	}

	if kind == None {
		c.logger.Debug("alert cleared")
		return
	}

	tone := c.tones.file(kind)
	if err := c.player.Play(tone); err != nil {
		c.logger.Errorw("failed to play alert", "alert", kind, "tone", tone, "error", err)
		return
	}
	c.current = kind
	c.logger.Infow("alert playing", "alert", kind, "tone", tone)
}

// Current returns the active alert
func (c *Controller) Current() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
