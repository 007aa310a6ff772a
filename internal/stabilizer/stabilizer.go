// Package stabilizer smooths a noisy, intermittently missing stream of 2D
// points. It keeps an exponential moving average of the detected point and
// bridges short runs of missed detections by holding the last known value.
//
// A Stabilizer is not safe for concurrent use. It is meant to be driven by the
// single goroutine that owns the frame loop.
package stabilizer

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned when Alpha is outside (0,1] or
	// MaxMissedFrames is negative.
	ErrInvalidConfig = errors.New("invalid stabilizer config")
	// ErrInvalidDimension is returned by Normalize for non-positive frame sizes.
	ErrInvalidDimension = errors.New("invalid frame dimension")
)

// Defaults used by DefaultConfig and the CLI flags.
const (
	DefaultAlpha           = 0.5
	DefaultMaxMissedFrames = 5
)

// Point is a 2D coordinate. Depending on the stage it is either in source
// pixel space or in normalized [-1,1] space.
type Point struct {
	X float64
	Y float64
}

// Sample is the outcome of one frame of detection.
type Sample struct {
	point Point
	found bool
}

// Detected builds a Sample carrying a detected point.
func Detected(p Point) Sample { return Sample{point: p, found: true} }

// NoDetection builds a Sample signalling that nothing was found in the frame.
func NoDetection() Sample { return Sample{} }

// Point returns the detected point and whether there was one.
func (s Sample) Point() (Point, bool) { return s.point, s.found }

// State tags both the stabilizer memory and each emitted Output.
type State int

const (
	// Absent means there is no current or held point.
	Absent State = iota
	// Tracking means the point is derived from the current frame's detection.
	Tracking
	// Holding means the last known point is repeated across a missed frame.
	Holding
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Tracking:
		return "tracking"
	case Holding:
		return "holding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Output is what the stabilizer emits for one frame. Point is only meaningful
// when State is not Absent.
type Output struct {
	Point Point
	State State
}

// Present reports whether the output carries a point.
func (o Output) Present() bool { return o.State != Absent }

// Config holds the smoothing parameters.
type Config struct {
	// Alpha is the weight given to the new sample, in (0,1].
	Alpha float64
	// MaxMissedFrames bounds how many consecutive misses are bridged by
	// holding the previous point. Zero disables holding.
	MaxMissedFrames int
}

// DefaultConfig returns Alpha 0.5 with a five frame hold budget.
func DefaultConfig() Config {
	return Config{Alpha: DefaultAlpha, MaxMissedFrames: DefaultMaxMissedFrames}
}

// Validate checks the config bounds. NaN alpha is rejected.
func (c Config) Validate() error {
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return fmt.Errorf("%w: alpha must be in (0,1], got %v", ErrInvalidConfig, c.Alpha)
	}
	if c.MaxMissedFrames < 0 {
		return fmt.Errorf("%w: max missed frames must be >= 0, got %d", ErrInvalidConfig, c.MaxMissedFrames)
	}
	return nil
}

// Stabilizer holds the smoothing state for one tracking session.
type Stabilizer struct {
	cfg      Config
	previous Point
	state    State
	missed   int
}

// New returns a Stabilizer in its initial state.
func New(cfg Config) (*Stabilizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stabilizer{cfg: cfg}, nil
}

// Update advances the stabilizer by one frame.
func (s *Stabilizer) Update(sample Sample) Output {
	if p, ok := sample.Point(); ok {
		smoothed := p
		if s.state != Absent {
			a := s.cfg.Alpha
			smoothed = Point{
				X: a*p.X + (1-a)*s.previous.X,
				Y: a*p.Y + (1-a)*s.previous.Y,
			}
		}
		s.previous = smoothed
		s.state = Tracking
		s.missed = 0
		return Output{Point: smoothed, State: Tracking}
	}

	if s.state == Absent {
		return Output{}
	}
	if s.missed < s.cfg.MaxMissedFrames {
		s.missed++
		s.state = Holding
		return Output{Point: s.previous, State: Holding}
	}

	s.clear()
	return Output{}
}

// SetConfig swaps the parameters. The accumulated point is left untouched, so
// a new alpha only affects the next valid sample. An invalid config is
// rejected and the current one kept.
func (s *Stabilizer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// Reset drops the accumulated state and keeps the config.
func (s *Stabilizer) Reset() { s.clear() }

func (s *Stabilizer) clear() {
	s.previous = Point{}
	s.state = Absent
	s.missed = 0
}

// Config returns the active parameters.
func (s *Stabilizer) Config() Config { return s.cfg }

// State reports the current tracking state.
func (s *Stabilizer) State() State { return s.state }

// Missed returns the number of consecutive misses bridged so far.
func (s *Stabilizer) Missed() int { return s.missed }

// Previous returns the last emitted point, if any.
func (s *Stabilizer) Previous() (Point, bool) {
	return s.previous, s.state != Absent
}

// Normalize maps a pixel coordinate into [-1,1] space with the Y axis pointing
// up. Points outside the frame map outside [-1,1]; nothing is clamped.
func Normalize(p Point, width, height int) (Point, error) {
	if width <= 0 || height <= 0 {
		return Point{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	w, h := float64(width), float64(height)
	return Point{
		X: (p.X/w)*2 - 1,
		Y: 1 - (p.Y/h)*2, // +0 at the center, never -0
	}, nil
}

// IsFinite reports whether both components are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
