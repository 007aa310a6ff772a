package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/parallax/internal/config"
	"github.com/andresmejia3/parallax/internal/depth"
	"github.com/andresmejia3/parallax/internal/metrics"
	"github.com/andresmejia3/parallax/internal/stabilizer"
	"github.com/andresmejia3/parallax/internal/transport"
	"github.com/andresmejia3/parallax/internal/types"
	"github.com/andresmejia3/parallax/internal/utils"
	"github.com/andresmejia3/parallax/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const megabyte = 1024 * 1024

// TrackOptions holds the configuration of a tracking session.
type TrackOptions struct {
	Input              string  `validate:"required"`
	InputFormat        string  `validate:"omitempty,oneof=v4l2 avfoundation dshow"`
	Scale              float64 `validate:"gt=0,lte=1"`
	Alpha              float64 `validate:"gt=0,lte=1"`
	MaxMissed          int     `validate:"gte=0"`
	Host               string  `validate:"required"`
	Port               int     `validate:"gt=0,lte=65535"`
	Payload            string  `validate:"oneof=csv spaced timestamped"`
	Landmark           string  `validate:"oneof=eyes nose left-eye"`
	DetectionThreshold float64 `validate:"gte=0,lte=1"`
	WorkerTimeout      time.Duration
	MetricsLog         string
	MetricsInterval    time.Duration `validate:"gt=0"`
	Record             bool
	Label              string
	Debug              bool
}

var trackOpts TrackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a face landmark from a camera or video and stream smoothed coordinates over UDP",
	Annotations: map[string]string{
		annotationNeedsDB: "record",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := trackOpts
		applyEnvDefaults(&opts, Env)
		if err := config.Validate(opts); err != nil {
			return err
		}
		return runTrack(cmd.Context(), opts)
	},
}

func init() {
	f := trackCmd.Flags()
	f.StringVarP(&trackOpts.Input, "input", "i", "", "Camera device or video file (e.g. /dev/video0, clip.mp4)")
	f.StringVar(&trackOpts.InputFormat, "input-format", "", "Capture backend: v4l2, avfoundation or dshow (empty for video files)")
	f.Float64Var(&trackOpts.Scale, "scale", 1.0, "Downscale factor applied to frames before detection (e.g. 0.66, 0.33)")
	f.Float64VarP(&trackOpts.Alpha, "alpha", "a", stabilizer.DefaultAlpha, "Smoothing factor in (0,1]; higher follows the raw point more closely")
	f.IntVarP(&trackOpts.MaxMissed, "max-missed", "m", stabilizer.DefaultMaxMissedFrames, "Consecutive missed frames to bridge by holding the last point (0 disables holding)")
	f.StringVar(&trackOpts.Host, "host", "", "UDP destination host (default: $PARALLAX_UDP_HOST or "+config.DefaultUDPHost+")")
	f.IntVarP(&trackOpts.Port, "port", "p", 0, fmt.Sprintf("UDP destination port (default: $PARALLAX_UDP_PORT or %d)", config.DefaultUDPPort))
	f.StringVar(&trackOpts.Payload, "payload", string(transport.FormatCSV), "Datagram format: csv, spaced or timestamped")
	f.StringVar(&trackOpts.Landmark, "landmark", worker.LandmarkEyes, "Tracked landmark: eyes, nose or left-eye")
	f.Float64VarP(&trackOpts.DetectionThreshold, "detection-threshold", "D", 0.5, "Face detection confidence threshold")
	f.DurationVar(&trackOpts.WorkerTimeout, "worker-timeout", 10*time.Second, "Maximum time to wait for one frame from the worker (0 waits forever)")
	f.StringVar(&trackOpts.MetricsLog, "metrics-log", "", "Write one CSV line per frame to this file")
	f.DurationVar(&trackOpts.MetricsInterval, "metrics-interval", time.Second, "How often throughput is logged")
	f.BoolVar(&trackOpts.Record, "record", false, "Persist the session and its metrics in the database")
	f.StringVar(&trackOpts.Label, "label", "", "Name for the recorded session")
	f.BoolVarP(&trackOpts.Debug, "debug", "d", false, "Run the worker in debug mode")

	trackCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(trackCmd)
}

// applyEnvDefaults fills the destination from the environment when no flag set it.
func applyEnvDefaults(opts *TrackOptions, env config.Env) {
	if opts.Host == "" {
		opts.Host = env.UDPHost
	}
	if opts.Port == 0 {
		opts.Port = env.UDPPort
	}
}

// detector turns one encoded frame into a landmark detection.
type detector interface {
	ProcessFrame(frame []byte) (types.Detection, error)
}

// publisher delivers one reading to the consumer.
type publisher interface {
	Send(r transport.Reading) error
}

// tracker is the per-frame stage of the pipeline. It is owned by the frame loop goroutine.
type tracker struct {
	stab     *stabilizer.Stabilizer
	detect   detector
	pub      publisher
	rec      *metrics.Recorder
	frameLog *metrics.FrameLog
	log      logrus.FieldLogger
	now      func() time.Time

	frames        int
	width, height int
	z             float64
}

// step runs one frame through detection, stabilization and normalization and
// sends the result when a point is present. The returned output is normalized.
func (t *tracker) step(frame []byte) (stabilizer.Output, error) {
	start := t.now()
	t.frames++

	det, err := t.detect.ProcessFrame(frame)
	if err != nil {
		return stabilizer.Output{}, err
	}

	// Misses carry no dimensions, so held points normalize against the last known frame size
	if det.Width > 0 && det.Height > 0 {
		t.width, t.height = det.Width, det.Height
	}

	sample := stabilizer.NoDetection()
	if det.Found {
		sample = stabilizer.Detected(stabilizer.Point{X: det.X, Y: det.Y})
		t.z = depth.Z(det.FaceWidth)
	}

	out := t.stab.Update(sample)
	if out.Present() {
		p, err := stabilizer.Normalize(out.Point, t.width, t.height)
		if err != nil {
			t.log.WithError(err).WithField("frame", t.frames).Warn("worker reported no frame size, dropping point")
			out = stabilizer.Output{}
		} else {
			out.Point = p
			// Fire and forget: the sender counts and logs failed writes
			_ = t.pub.Send(transport.Reading{X: p.X, Y: p.Y, Z: t.z, Timestamp: t.now()})
		}
	}

	f := metrics.Frame{Latency: t.now().Sub(start), Detected: det.Found, Output: out}
	t.rec.Observe(f)
	if t.frameLog != nil {
		if err := t.frameLog.Write(t.frames, f); err != nil {
			return out, fmt.Errorf("failed to write metrics log: %w", err)
		}
	}
	return out, nil
}

// runTrack orchestrates a session: worker startup, FFmpeg capture, the frame loop and the final report.
func runTrack(ctx context.Context, opts TrackOptions) error {
	stab, err := stabilizer.New(stabilizer.Config{Alpha: opts.Alpha, MaxMissedFrames: opts.MaxMissed})
	if err != nil {
		return err
	}
	format, err := transport.ParseFormat(opts.Payload)
	if err != nil {
		return err
	}

	sender, err := transport.NewSender(opts.Host, opts.Port, format, Log)
	if err != nil {
		utils.ShowError("Failed to open UDP socket", err, nil)
		return err
	}
	defer sender.Close()

	log := Log.WithFields(logrus.Fields{
		"input":      opts.Input,
		"alpha":      opts.Alpha,
		"max_missed": opts.MaxMissed,
		"dest":       sender.Address(),
		"payload":    format,
	})

	var frameLog *metrics.FrameLog
	if opts.MetricsLog != "" {
		f, err := os.Create(opts.MetricsLog)
		if err != nil {
			return fmt.Errorf("failed to create metrics log: %w", err)
		}
		if frameLog, err = metrics.NewFrameLog(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write metrics log: %w", err)
		}
		defer frameLog.Close()
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark worker...")
	w, err := worker.NewLandmarkWorker(ctx, 0, worker.Config{
		Python:             Env.Python,
		Script:             Env.WorkerScript,
		Landmark:           opts.Landmark,
		DetectionThreshold: opts.DetectionThreshold,
		ReadTimeout:        opts.WorkerTimeout,
		Debug:              opts.Debug,
	})
	if err != nil {
		utils.ShowError("Worker startup failed", err, nil)
		return err
	}
	defer w.Close()

	startedAt := time.Now()
	var sessionID uuid.UUID
	if opts.Record {
		sessionID, err = DB.CreateSession(ctx, types.Session{
			Label:         opts.Label,
			Source:        opts.Input,
			Alpha:         opts.Alpha,
			MaxMissed:     opts.MaxMissed,
			PayloadFormat: string(format),
			StartedAt:     startedAt,
		})
		if err != nil {
			utils.ShowError("Failed to register session", err, nil)
			return err
		}
		log = log.WithField("session", sessionID.String()[:8])
	}

	ffmpeg := utils.NewFFmpegCaptureCmd(ctx, utils.CaptureConfig{
		Input:  opts.Input,
		Format: opts.InputFormat,
		Scale:  opts.Scale,
	})
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	// Cameras have no frame count, so they get a spinner
	total := utils.GetTotalFrames(ctx, opts.Input)
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎯 Parallax Tracking"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
	)

	t := &tracker{
		stab:     stab,
		detect:   w,
		pub:      sender,
		rec:      metrics.NewRecorder(startedAt),
		frameLog: frameLog,
		log:      log,
		now:      time.Now,
	}

	log.Info("tracking started")

	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var loopErr error
	for scanner.Scan() {
		if _, err := t.step(scanner.Bytes()); err != nil {
			if ctx.Err() == nil {
				loopErr = err
				utils.ShowError("Frame processing failed", err, w.Cmd)
			}
			break
		}
		bar.Add(1)

		if fps, ok := t.rec.Tick(time.Now(), opts.MetricsInterval); ok {
			stats := sender.Stats()
			log.WithFields(logrus.Fields{
				"frame":  t.frames,
				"fps":    fmt.Sprintf("%.1f", fps),
				"state":  stab.State(),
				"sent":   stats.Sent,
				"failed": stats.Failed,
			}).Debug("throughput")
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	// Nobody drains ffmpeg after an early exit, so it could block on a full pipe
	if loopErr != nil {
		ffmpeg.Process.Kill()
	}

	// Ctrl+C is how camera sessions normally end, so a cancelled context is not a failure
	if loopErr == nil && ctx.Err() == nil {
		if err := scanner.Err(); err != nil {
			loopErr = fmt.Errorf("frame scanner failed: %w", err)
			utils.ShowError("Frame scanner failed", err, nil)
		}
	}
	if err := ffmpeg.Wait(); err != nil && loopErr == nil && ctx.Err() == nil {
		loopErr = err
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.ShowError("FFmpeg execution failed", err, nil)
	}

	endedAt := time.Now()
	summary := t.rec.Summary(endedAt)
	printSummary(os.Stderr, summary, sender.Stats())
	log.WithFields(logrus.Fields{
		"frames":         summary.Frames,
		"detection_rate": fmt.Sprintf("%.1f%%", summary.DetectionRate()),
		"avg_fps":        fmt.Sprintf("%.1f", summary.AvgFPS),
	}).Info("tracking stopped")

	if opts.Record {
		// The session context may be cancelled already; the summary still has to land
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := DB.FinishSession(saveCtx, sessionID, endedAt, summary); err != nil {
			utils.ShowError("Failed to save session summary", err, nil)
			return errors.Join(loopErr, err)
		}
		fmt.Fprintf(os.Stderr, "💾 Session saved: %s\n", sessionID)
	}
	return loopErr
}

func printSummary(w io.Writer, s types.SessionSummary, stats transport.SenderStats) {
	fmt.Fprintf(w, "🏁 Tracking Complete. %d frames, %d detections (%.1f%%), %d held, %d absent.\n",
		s.Frames, s.Detections, s.DetectionRate(), s.Held, s.Absent)
	fmt.Fprintf(w, "   FPS %.1f | latency mean %.1fms p50 %.1fms p95 %.1fms | jitter x %.4f y %.4f\n",
		s.AvgFPS, s.LatencyMeanMs, s.LatencyP50Ms, s.LatencyP95Ms, s.JitterX, s.JitterY)
	fmt.Fprintf(w, "   UDP datagrams sent %d, failed %d\n", stats.Sent, stats.Failed)
}
