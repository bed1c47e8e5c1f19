package detection

import (
	"time"

	"driveguard/internal/ear"
)

// FrameObservation is what the landmark source reports for one video frame.
// Eye contours are nil when the landmarks for that eye were not found.
type FrameObservation struct {
	FaceDetected bool         `json:"face_detected"`
	LeftEye      *ear.Contour `json:"left_eye,omitempty"`
	RightEye     *ear.Contour `json:"right_eye,omitempty"`
}

// Presence is whether a face is being tracked
type Presence string

const (
	Present Presence = "present"
	Absent  Presence = "absent"
)

// Alertness is only meaningful while Present
type Alertness string

const (
	Awake  Alertness = "awake"
	Drowsy Alertness = "drowsy"
)

// State is a point-in-time copy of the machine
type State struct {
	Presence          Presence   `json:"presence"`
	Alertness         Alertness  `json:"alertness"`
	LowEARStreak      int        `json:"low_ear_streak"`
	MissingFaceStreak int        `json:"missing_face_streak"`
	DrowsySince       *time.Time `json:"drowsy_since,omitempty"`
	AbsentSince       *time.Time `json:"absent_since,omitempty"`
	LastEAR           *float64   `json:"last_ear,omitempty"`
	Ticks             uint64     `json:"ticks"`
	Options           Options    `json:"options"`
}
