package types

import (
	"time"

	"github.com/google/uuid"
)

// Detection is what the landmark worker reports for one frame.
// X and Y are pixel coordinates in a Width x Height frame and only meaningful when Found is set.
type Detection struct {
	Found     bool
	X         float64
	Y         float64
	FaceWidth float64 // Face width in pixels, 0 when the worker can't measure it
	Width     int
	Height    int
}

// Session is a recorded tracking run.
type Session struct {
	ID            uuid.UUID
	Label         string
	Source        string
	Alpha         float64
	MaxMissed     int
	PayloadFormat string
	StartedAt     time.Time
	EndedAt       *time.Time
	Summary       SessionSummary
}

// SessionSummary holds the performance figures collected during a session.
type SessionSummary struct {
	Frames        int
	Detections    int
	Held          int
	Absent        int
	AvgFPS        float64
	JitterX       float64
	JitterY       float64
	LatencyMeanMs float64
	LatencyP50Ms  float64
	LatencyP95Ms  float64
}

// DetectionRate returns the percentage of frames with a detection.
func (s SessionSummary) DetectionRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Detections) / float64(s.Frames) * 100
}
