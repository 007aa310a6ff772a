package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
// Callers still return the error so the command exits non-zero.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 PARALLAX ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Frame Source ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// CaptureConfig describes where frames come from.
type CaptureConfig struct {
	// Input is a camera device (/dev/video0, "0" for avfoundation) or a video file.
	Input string
	// Format is the ffmpeg demuxer (v4l2, avfoundation, dshow). Empty lets ffmpeg probe the input.
	Format string
	// Scale downsizes frames before detection. 0 or 1 keeps the native size.
	Scale float64
}

// NewFFmpegCaptureCmd creates a decoder pipe that emits MJPEG frames on Stdout.
func NewFFmpegCaptureCmd(ctx context.Context, cfg CaptureConfig) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", captureArgs(cfg)...)
}

func captureArgs(cfg CaptureConfig) []string {
	// -loglevel error keeps the stderr buffer small on long camera sessions
	args := []string{"-hide_banner", "-loglevel", "error"}
	if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}
	args = append(args, "-i", cfg.Input)
	if cfg.Scale > 0 && cfg.Scale < 1 {
		s := strconv.FormatFloat(cfg.Scale, 'f', -1, 64)
		// Round to even sizes, mjpeg rejects odd chroma dimensions
		args = append(args, "-vf", fmt.Sprintf("scale=trunc(iw*%s/2)*2:trunc(ih*%s/2)*2", s, s))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// GetTotalFrames uses ffprobe to read the frame count of a video file.
// It returns 0 for live devices or when the count is unknown, so the caller falls back to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Progress will be shown without a total.\n")
		return 0
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	return parseFrameCount(out)
}

func parseFrameCount(out []byte) int {
	var res struct {
		Streams []struct {
			NbFrames string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbFrames)
	if err != nil || count < 0 {
		return 0
	}
	return count
}
