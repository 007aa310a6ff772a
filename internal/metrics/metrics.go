// Package metrics collects per-session performance figures for the tracker:
// throughput, detection rate, output jitter and per-frame latency.
package metrics

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/andresmejia3/parallax/internal/stabilizer"
	"github.com/andresmejia3/parallax/internal/types"
	"github.com/influxdata/tdigest"
	"gonum.org/v1/gonum/stat"
)

// Frame is the outcome of processing one captured frame.
type Frame struct {
	Latency  time.Duration
	Detected bool
	// Output is the stabilized output, already normalized when the caller normalizes.
	Output stabilizer.Output
}

// JitterWindow is how many of the most recent present outputs jitter is computed over.
const JitterWindow = 4096

// Recorder accumulates frame observations. It is owned by the frame loop and not safe for concurrent use.
type Recorder struct {
	start      time.Time
	frames     int
	detections int
	held       int
	absent     int

	xs, ys     []float64 // ring buffers of at most JitterWindow points
	next       int
	latencies  *tdigest.TDigest
	latencySum float64

	window      time.Time
	windowCount int
	lastFPS     float64
}

// NewRecorder starts a recorder whose clock begins at now.
func NewRecorder(now time.Time) *Recorder {
	return &Recorder{
		start:     now,
		window:    now,
		latencies: tdigest.NewWithCompression(100),
	}
}

// Observe records one frame.
func (r *Recorder) Observe(f Frame) {
	r.frames++
	r.windowCount++
	if f.Detected {
		r.detections++
	}
	switch f.Output.State {
	case stabilizer.Holding:
		r.held++
	case stabilizer.Absent:
		r.absent++
	}
	if f.Output.Present() {
		r.keep(f.Output.Point)
	}

	ms := float64(f.Latency) / float64(time.Millisecond)
	r.latencies.Add(ms, 1)
	r.latencySum += ms
}

func (r *Recorder) keep(p stabilizer.Point) {
	if len(r.xs) < JitterWindow {
		r.xs = append(r.xs, p.X)
		r.ys = append(r.ys, p.Y)
		return
	}
	r.xs[r.next] = p.X
	r.ys[r.next] = p.Y
	r.next = (r.next + 1) % JitterWindow
}

// Tick returns the frame rate of the current window once at least interval has
// elapsed since the window opened, and starts a new window.
func (r *Recorder) Tick(now time.Time, interval time.Duration) (float64, bool) {
	elapsed := now.Sub(r.window)
	if elapsed < interval || elapsed <= 0 {
		return 0, false
	}
	r.lastFPS = float64(r.windowCount) / elapsed.Seconds()
	r.window = now
	r.windowCount = 0
	return r.lastFPS, true
}

// LastFPS is the rate reported by the most recent Tick.
func (r *Recorder) LastFPS() float64 { return r.lastFPS }

// Frames is the number of observed frames.
func (r *Recorder) Frames() int { return r.frames }

// Summary computes the session figures as of now.
func (r *Recorder) Summary(now time.Time) types.SessionSummary {
	s := types.SessionSummary{
		Frames:     r.frames,
		Detections: r.detections,
		Held:       r.held,
		Absent:     r.absent,
	}
	if elapsed := now.Sub(r.start).Seconds(); elapsed > 0 {
		s.AvgFPS = float64(r.frames) / elapsed
	}
	s.JitterX = popStdDev(r.xs)
	s.JitterY = popStdDev(r.ys)
	if r.frames > 0 {
		s.LatencyMeanMs = r.latencySum / float64(r.frames)
		s.LatencyP50Ms = r.latencies.Quantile(0.5)
		s.LatencyP95Ms = r.latencies.Quantile(0.95)
	}
	return s
}

func popStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(x, nil))
}

// FrameLog writes one CSV line per frame: frame,latency_ms,state,x,y.
type FrameLog struct {
	w      *csv.Writer
	closer io.Closer
}

// NewFrameLog wraps w. If w is also an io.Closer it is closed by Close.
func NewFrameLog(w io.Writer) (*FrameLog, error) {
	l := &FrameLog{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	if err := l.w.Write([]string{"frame", "latency_ms", "state", "x", "y"}); err != nil {
		return nil, err
	}
	return l, nil
}

// Write appends a line for frame index i. Absent frames leave x and y empty.
func (l *FrameLog) Write(i int, f Frame) error {
	x, y := "", ""
	if f.Output.Present() {
		x = strconv.FormatFloat(f.Output.Point.X, 'f', 4, 64)
		y = strconv.FormatFloat(f.Output.Point.Y, 'f', 4, 64)
	}
	ms := float64(f.Latency) / float64(time.Millisecond)
	return l.w.Write([]string{strconv.Itoa(i), strconv.FormatFloat(ms, 'f', 3, 64), f.Output.State.String(), x, y})
}

// Close flushes buffered lines and closes the destination.
func (l *FrameLog) Close() error {
	l.w.Flush()
	err := l.w.Error()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
