// Package ear computes the eye-aspect-ratio (EAR) from six-point eye contours.
//
// EAR is the ratio of the two vertical eyelid distances to the horizontal eye
// width. It is dimensionless, so contours may be given in pixels or normalized
// coordinates as long as both axes share the same scale.
package ear

import (
	"errors"
	"math"
)

// ErrDegenerate is returned when a contour has zero horizontal width or
// contains non-finite coordinates.
var ErrDegenerate = errors.New("degenerate eye contour")

// Point is a 2D landmark coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Contour holds the six eye landmarks in contour order:
// p0 outer corner, p1/p2 upper lid, p3 inner corner, p4/p5 lower lid.
type Contour [6]Point

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EAR returns (|p1-p5| + |p2-p4|) / (2*|p0-p3|).
func EAR(c Contour) (float64, error) {
	for _, p := range c {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return 0, ErrDegenerate
		}
	}

	a := dist(c[1], c[5])
	b := dist(c[2], c[4])
	w := dist(c[0], c[3])
	if w == 0 {
		return 0, ErrDegenerate
	}

	return (a + b) / (2 * w), nil
}

// Combined returns the frame-level EAR from up to two eyes.
// Both valid: arithmetic mean. One valid: that eye. None: ok is false and the
// frame carries no EAR signal.
func Combined(left, right *Contour) (value float64, ok bool) {
	var sum float64
	var n int

	for _, c := range []*Contour{left, right} {
		if c == nil {
			continue
		}
		v, err := EAR(*c)
		if err != nil {
			continue
		}
		sum += v
		n++
	}

	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
