package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/parallax/internal/types"
	"github.com/andresmejia3/parallax/internal/utils" // Using the SafeCommand wrapper
)

// ErrWorker wraps errors reported by the worker process itself.
var ErrWorker = errors.New("python worker error")

const (
	statusOK    = 0
	statusError = 1

	// found(1) + x,y,faceWidth(3*4) + width,height(2*4)
	detectionPayloadSize = 1 + 12 + 8
)

// Landmarks the worker can track.
const (
	LandmarkEyes    = "eyes"     // Midpoint between the inner eye corners
	LandmarkNose    = "nose"     // Nose tip
	LandmarkLeftEye = "left-eye" // Center of the left eye box
)

// Config holds the startup parameters for a landmark worker.
type Config struct {
	Python             string
	Script             string
	Landmark           string
	DetectionThreshold float64
	ReadTimeout        time.Duration
	Debug              bool
}

func (c Config) args() []string {
	args := []string{"-u", c.Script,
		"--landmark", c.Landmark,
		"--detection-threshold", strconv.FormatFloat(c.DetectionThreshold, 'f', -1, 64),
	}
	if c.Debug {
		args = append(args, "--debug")
	}
	return args
}

// LandmarkWorker is a handle on the external detection process.
type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// deadliner is satisfied by *os.File on platforms where pipes support deadlines.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// NewLandmarkWorker starts the worker process. The process is killed when ctx is cancelled.
func NewLandmarkWorker(ctx context.Context, id int, cfg Config) (*LandmarkWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, cfg.args()...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// ProcessFrame sends one JPEG frame and decodes the worker's answer.
// Protocol: [Length][Data] in both directions, Big Endian uint32 length.
func (w *LandmarkWorker) ProcessFrame(frame []byte) (types.Detection, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(frame))); err != nil {
		return types.Detection{}, err
	}
	if _, err := w.Stdin.Write(frame); err != nil {
		return types.Detection{}, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return types.Detection{}, fmt.Errorf("reading response header: %w", err) // Worker crashed or timed out
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return types.Detection{}, fmt.Errorf("reading response body: %w", err)
	}
	return decodeResponse(body)
}

func decodeResponse(body []byte) (types.Detection, error) {
	if len(body) == 0 {
		return types.Detection{}, fmt.Errorf("%w: empty response", ErrWorker)
	}
	r := bytes.NewReader(body[1:])

	switch body[0] {
	case statusOK:
		if r.Len() < detectionPayloadSize {
			return types.Detection{}, fmt.Errorf("%w: short detection payload (%d bytes)", ErrWorker, r.Len())
		}
		var wire struct {
			Found         uint8
			X, Y          float32
			FaceWidth     float32
			Width, Height uint32
		}
		if err := binary.Read(r, binary.BigEndian, &wire); err != nil {
			return types.Detection{}, err
		}
		d := types.Detection{
			Found:     wire.Found != 0,
			X:         float64(wire.X),
			Y:         float64(wire.Y),
			FaceWidth: float64(wire.FaceWidth),
			Width:     int(wire.Width),
			Height:    int(wire.Height),
		}
		// A NaN or infinite landmark is as good as no landmark
		if d.Found && !isFinite(d.X, d.Y) {
			d.Found = false
		}
		return d, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return types.Detection{}, fmt.Errorf("%w: truncated error message", ErrWorker)
		}
		if int(msgLen) > r.Len() {
			msgLen = uint32(r.Len())
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)
		return types.Detection{}, fmt.Errorf("%w: %s", ErrWorker, msg)

	default:
		return types.Detection{}, fmt.Errorf("%w: unknown status byte %d", ErrWorker, body[0])
	}
}

func isFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Close shuts the pipes and waits for the process to exit.
func (w *LandmarkWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
