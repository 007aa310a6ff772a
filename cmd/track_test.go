package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/parallax/internal/config"
	"github.com/andresmejia3/parallax/internal/depth"
	"github.com/andresmejia3/parallax/internal/logger"
	"github.com/andresmejia3/parallax/internal/metrics"
	"github.com/andresmejia3/parallax/internal/stabilizer"
	"github.com/andresmejia3/parallax/internal/transport"
	"github.com/andresmejia3/parallax/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDetector struct {
	detections []types.Detection
	err        error
	calls      int
}

func (d *scriptedDetector) ProcessFrame(frame []byte) (types.Detection, error) {
	if d.calls >= len(d.detections) {
		return types.Detection{}, d.err
	}
	det := d.detections[d.calls]
	d.calls++
	return det, nil
}

type capturePublisher struct {
	readings []transport.Reading
}

func (p *capturePublisher) Send(r transport.Reading) error {
	p.readings = append(p.readings, r)
	return nil
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Send(r transport.Reading) error {
	p.calls++
	return errors.New("connection refused")
}

func newTestTracker(t *testing.T, cfg stabilizer.Config, det detector, pub publisher, frameLog *metrics.FrameLog) *tracker {
	t.Helper()
	stab, err := stabilizer.New(cfg)
	require.NoError(t, err)
	clock := time.Unix(1700000000, 0)
	return &tracker{
		stab:     stab,
		detect:   det,
		pub:      pub,
		rec:      metrics.NewRecorder(clock),
		frameLog: frameLog,
		log:      logger.Discard(),
		now: func() time.Time {
			clock = clock.Add(10 * time.Millisecond)
			return clock
		},
	}
}

func TestTrackerStep(t *testing.T) {
	det := &scriptedDetector{detections: []types.Detection{
		{Found: true, X: 320, Y: 240, Width: 640, Height: 480},
		{Found: true, X: 640, Y: 0, FaceWidth: 287, Width: 640, Height: 480},
		{Found: false},
		{Found: false},
	}}
	pub := &capturePublisher{}
	var logBuf bytes.Buffer
	frameLog, err := metrics.NewFrameLog(&logBuf)
	require.NoError(t, err)

	tr := newTestTracker(t, stabilizer.Config{Alpha: 0.5, MaxMissedFrames: 1}, det, pub, frameLog)

	wantStates := []stabilizer.State{stabilizer.Tracking, stabilizer.Tracking, stabilizer.Holding, stabilizer.Absent}
	var outs []stabilizer.Output
	for i := range wantStates {
		out, err := tr.step([]byte{0xFF, 0xD8, 0xFF, 0xD9})
		require.NoError(t, err)
		assert.Equal(t, wantStates[i], out.State, "frame %d", i+1)
		outs = append(outs, out)
	}

	// First detection is taken as-is: the frame center
	assert.InDelta(t, 0.0, outs[0].Point.X, 1e-9)
	assert.InDelta(t, 0.0, outs[0].Point.Y, 1e-9)
	// EMA of (320,240) and (640,0) is (480,120), which normalizes to (0.5,0.5)
	assert.InDelta(t, 0.5, outs[1].Point.X, 1e-9)
	assert.InDelta(t, 0.5, outs[1].Point.Y, 1e-9)
	// The held point keeps the last frame size even though the miss reported none
	assert.Equal(t, outs[1].Point, outs[2].Point)

	require.Len(t, pub.readings, 3, "nothing is sent once the point is absent")
	assert.Equal(t, 0.0, pub.readings[0].Z, "no face width means no depth")
	assert.Equal(t, depth.Z(287), pub.readings[1].Z)
	assert.Equal(t, pub.readings[1].Z, pub.readings[2].Z, "held frames repeat the last depth")

	sum := tr.rec.Summary(time.Unix(1700000001, 0))
	assert.Equal(t, 4, sum.Frames)
	assert.Equal(t, 2, sum.Detections)
	assert.Equal(t, 1, sum.Held)
	assert.Equal(t, 1, sum.Absent)

	require.NoError(t, frameLog.Close())
	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "frame,latency_ms,state,x,y", lines[0])
	assert.True(t, strings.HasPrefix(lines[4], "4,"), lines[4])
}

func TestTrackerStepUnknownFrameSize(t *testing.T) {
	det := &scriptedDetector{detections: []types.Detection{{Found: true, X: 10, Y: 10}}}
	pub := &capturePublisher{}
	tr := newTestTracker(t, stabilizer.DefaultConfig(), det, pub, nil)

	out, err := tr.step(nil)
	require.NoError(t, err)
	assert.False(t, out.Present())
	assert.Empty(t, pub.readings)
}

func TestTrackerStepWorkerError(t *testing.T) {
	boom := errors.New("worker died")
	det := &scriptedDetector{err: boom}
	pub := &capturePublisher{}
	tr := newTestTracker(t, stabilizer.DefaultConfig(), det, pub, nil)

	_, err := tr.step(nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.readings)
}

func TestTrackerStepSendFailureKeepsTracking(t *testing.T) {
	det := &scriptedDetector{detections: []types.Detection{
		{Found: true, X: 320, Y: 240, Width: 640, Height: 480},
		{Found: true, X: 320, Y: 240, Width: 640, Height: 480},
	}}
	pub := &failingPublisher{}
	tr := newTestTracker(t, stabilizer.DefaultConfig(), det, pub, nil)

	for i := 0; i < 2; i++ {
		out, err := tr.step(nil)
		require.NoError(t, err, "frame %d", i+1)
		assert.Equal(t, stabilizer.Tracking, out.State)
	}
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, 2, tr.rec.Summary(time.Unix(1700000001, 0)).Detections)
}

func TestApplyEnvDefaults(t *testing.T) {
	env := config.Env{UDPHost: "10.0.0.9", UDPPort: 7001}

	opts := TrackOptions{}
	applyEnvDefaults(&opts, env)
	assert.Equal(t, "10.0.0.9", opts.Host)
	assert.Equal(t, 7001, opts.Port)

	opts = TrackOptions{Host: "localhost", Port: 9000}
	applyEnvDefaults(&opts, env)
	assert.Equal(t, "localhost", opts.Host, "flags win over the environment")
	assert.Equal(t, 9000, opts.Port)
}

func TestTrackOptionsValidation(t *testing.T) {
	valid := TrackOptions{
		Input:           "/dev/video0",
		Scale:           1,
		Alpha:           0.5,
		MaxMissed:       5,
		Host:            "127.0.0.1",
		Port:            6969,
		Payload:         "csv",
		Landmark:        "eyes",
		MetricsInterval: time.Second,
	}
	require.NoError(t, config.Validate(valid))

	tests := []struct {
		name   string
		mutate func(o *TrackOptions)
	}{
		{name: "Alpha zero", mutate: func(o *TrackOptions) { o.Alpha = 0 }},
		{name: "Alpha above one", mutate: func(o *TrackOptions) { o.Alpha = 1.01 }},
		{name: "Negative max missed", mutate: func(o *TrackOptions) { o.MaxMissed = -1 }},
		{name: "Port out of range", mutate: func(o *TrackOptions) { o.Port = 70000 }},
		{name: "Unknown payload", mutate: func(o *TrackOptions) { o.Payload = "json" }},
		{name: "Unknown landmark", mutate: func(o *TrackOptions) { o.Landmark = "mouth" }},
		{name: "Unknown capture backend", mutate: func(o *TrackOptions) { o.InputFormat = "gdigrab" }},
		{name: "Zero scale", mutate: func(o *TrackOptions) { o.Scale = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			assert.ErrorIs(t, config.Validate(o), stabilizer.ErrInvalidConfig)
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, types.SessionSummary{Frames: 10, Detections: 8, Held: 1, Absent: 1, AvgFPS: 30},
		transport.SenderStats{Sent: 9, Failed: 0})
	out := buf.String()
	assert.Contains(t, out, "10 frames, 8 detections (80.0%)")
	assert.Contains(t, out, "sent 9, failed 0")
}
