package detection

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidOptions is returned by Validate and Configure for out-of-range options
var ErrInvalidOptions = errors.New("invalid detection options")

// Options are the debounce thresholds of the state machine
type Options struct {
	// EARThreshold is the eye-aspect-ratio below which a frame counts as eyes closed
	EARThreshold float64 `json:"ear_threshold" yaml:"ear_threshold"`
	// DrowsyFrames is the number of consecutive low-EAR frames that mean drowsy
	DrowsyFrames int `json:"drowsy_frames" yaml:"drowsy_frames"`
	// AbsenceFrames is the number of consecutive faceless frames that mean absent
	AbsenceFrames int `json:"absence_frames" yaml:"absence_frames"`
	// EmitInterruptedEpisodes closes a drowsy episode with its own event when
	// the driver disappears mid-episode
	EmitInterruptedEpisodes bool `json:"emit_interrupted_episodes" yaml:"emit_interrupted_episodes"`
}

// DefaultOptions returns the stock thresholds (0.25 EAR, 20 and 30 frames)
func DefaultOptions() Options {
	return Options{
		EARThreshold:  0.25,
		DrowsyFrames:  20,
		AbsenceFrames: 30,
	}
}

// Validate rejects out-of-range values. Nothing is clamped.
func (o Options) Validate() error {
	if math.IsNaN(o.EARThreshold) || math.IsInf(o.EARThreshold, 0) {
		return fmt.Errorf("%w: ear_threshold must be finite", ErrInvalidOptions)
	}
	if o.EARThreshold <= 0 || o.EARThreshold > 1 {
		return fmt.Errorf("%w: ear_threshold %.3f outside (0, 1]", ErrInvalidOptions, o.EARThreshold)
	}
	if o.DrowsyFrames < 1 {
		return fmt.Errorf("%w: drowsy_frames must be at least 1, got %d", ErrInvalidOptions, o.DrowsyFrames)
	}
	if o.AbsenceFrames < 1 {
		return fmt.Errorf("%w: absence_frames must be at least 1, got %d", ErrInvalidOptions, o.AbsenceFrames)
	}
	return nil
}
