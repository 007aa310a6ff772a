package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func detectionPayload(found bool, x, y, faceWidth float32, width, height uint32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	if found {
		payload.WriteByte(1)
	} else {
		payload.WriteByte(0)
	}
	binary.Write(payload, binary.BigEndian, []float32{x, y, faceWidth})
	binary.Write(payload, binary.BigEndian, []uint32{width, height})
	return payload.Bytes()
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := framed(detectionPayload(true, 320.5, 200, 150, 640, 480))

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	det, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO the worker
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if n := binary.BigEndian.Uint32(sentData[:4]); n != uint32(len(inputFrame)) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), n)
	}
	if !bytes.Equal(sentData[4:], inputFrame) {
		t.Errorf("Frame body mismatch: %X", sentData[4:])
	}

	if !det.Found {
		t.Fatal("Expected a detection")
	}
	if math.Abs(det.X-320.5) > 1e-6 || math.Abs(det.Y-200) > 1e-6 {
		t.Errorf("Expected point (320.5, 200), got (%f, %f)", det.X, det.Y)
	}
	if det.FaceWidth != 150 {
		t.Errorf("Expected face width 150, got %f", det.FaceWidth)
	}
	if det.Width != 640 || det.Height != 480 {
		t.Errorf("Expected 640x480 frame, got %dx%d", det.Width, det.Height)
	}
}

func TestProcessFrame_NoDetection(t *testing.T) {
	w := &LandmarkWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(detectionPayload(false, 0, 0, 0, 1280, 720)),
	}

	det, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if det.Found {
		t.Error("Expected no detection")
	}
	if det.Width != 1280 || det.Height != 720 {
		t.Errorf("Frame size should still be reported, got %dx%d", det.Width, det.Height)
	}
}

func TestProcessFrame_NaNIsNoDetection(t *testing.T) {
	nan := float32(math.NaN())
	w := &LandmarkWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(detectionPayload(true, nan, 10, 0, 640, 480)),
	}

	det, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if det.Found {
		t.Error("NaN landmark should be reported as no detection")
	}
}

func TestProcessFrame_InfIsNoDetection(t *testing.T) {
	tests := []struct {
		name string
		x, y float32
	}{
		{name: "Positive infinity X", x: float32(math.Inf(1)), y: 10},
		{name: "Negative infinity Y", x: 10, y: float32(math.Inf(-1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &LandmarkWorker{
				Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
				DataPipe: framed(detectionPayload(true, tt.x, tt.y, 120, 640, 480)),
			}
			det, err := w.ProcessFrame([]byte("frame"))
			if err != nil {
				t.Fatalf("ProcessFrame failed: %v", err)
			}
			if det.Found {
				t.Errorf("Infinite landmark (%v, %v) should be reported as no detection", det.X, det.Y)
			}
		})
	}
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Truncated(t *testing.T) {
	tests := []struct {
		name string
		pipe *MockCloser
	}{
		{name: "Empty pipe", pipe: &MockCloser{Buffer: new(bytes.Buffer)}},
		{name: "Short body", pipe: func() *MockCloser {
			m := &MockCloser{Buffer: new(bytes.Buffer)}
			binary.Write(m, binary.BigEndian, uint32(50))
			m.Write([]byte{statusOK, 1})
			return m
		}()},
		{name: "Short detection", pipe: framed([]byte{statusOK, 1, 0, 0})},
		{name: "Empty payload", pipe: framed([]byte{})},
		{name: "Unknown status", pipe: framed([]byte{7})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &LandmarkWorker{
				Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
				DataPipe: tt.pipe,
			}
			if _, err := w.ProcessFrame([]byte("frame")); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestConfigArgs(t *testing.T) {
	cfg := Config{Script: "python/landmarker.py", Landmark: LandmarkNose, DetectionThreshold: 0.5, Debug: true}
	want := []string{"-u", "python/landmarker.py", "--landmark", "nose", "--detection-threshold", "0.5", "--debug"}
	got := cfg.args()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
