package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/parallax/internal/config"
	"github.com/andresmejia3/parallax/internal/stabilizer"
	"github.com/spf13/cobra"
)

// SmoothOptions configures an offline smoothing run.
type SmoothOptions struct {
	Alpha     float64 `validate:"gt=0,lte=1"`
	MaxMissed int     `validate:"gte=0"`
	Width     int     `validate:"gte=0"`
	Height    int     `validate:"gte=0"`
}

var smoothOpts SmoothOptions

var smoothCmd = &cobra.Command{
	Use:   "smooth [file]",
	Short: "Run recorded samples through the stabilizer (one 'x,y' or '-' per line)",
	Long: `Reads one sample per line from a file or stdin. A line is either "x,y" for a
detection or "-", "none" or an empty line for a missed frame. Prints one output
per line: "x,y" while a point is tracked or held, "none" when absent.

With --width and --height the outputs are normalized into [-1,1].`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := config.Validate(smoothOpts); err != nil {
			return err
		}
		if (smoothOpts.Width == 0) != (smoothOpts.Height == 0) {
			return fmt.Errorf("--width and --height must be set together")
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return runSmooth(in, cmd.OutOrStdout(), smoothOpts)
	},
}

func init() {
	smoothCmd.Flags().Float64VarP(&smoothOpts.Alpha, "alpha", "a", stabilizer.DefaultAlpha, "Smoothing factor in (0,1]")
	smoothCmd.Flags().IntVarP(&smoothOpts.MaxMissed, "max-missed", "m", stabilizer.DefaultMaxMissedFrames, "Consecutive missed frames to hold the last point")
	smoothCmd.Flags().IntVar(&smoothOpts.Width, "width", 0, "Frame width in pixels for normalization")
	smoothCmd.Flags().IntVar(&smoothOpts.Height, "height", 0, "Frame height in pixels for normalization")
	rootCmd.AddCommand(smoothCmd)
}

func runSmooth(r io.Reader, w io.Writer, opts SmoothOptions) error {
	stab, err := stabilizer.New(stabilizer.Config{Alpha: opts.Alpha, MaxMissedFrames: opts.MaxMissed})
	if err != nil {
		return err
	}

	out := bufio.NewWriter(w)
	defer out.Flush()

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		sample, err := parseSample(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		res := stab.Update(sample)
		if !res.Present() {
			fmt.Fprintln(out, "none")
			continue
		}
		p := res.Point
		if opts.Width > 0 {
			if p, err = stabilizer.Normalize(p, opts.Width, opts.Height); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "%.4f,%.4f\n", p.X, p.Y)
	}
	return scanner.Err()
}

// parseSample reads "x,y" as a detection and "", "-" or "none" as a miss.
// Non-finite coordinates count as a miss.
func parseSample(line string) (stabilizer.Sample, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "", "-", "none":
		return stabilizer.NoDetection(), nil
	}

	xs, ys, ok := strings.Cut(line, ",")
	if !ok {
		return stabilizer.Sample{}, fmt.Errorf("expected \"x,y\", got %q", line)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return stabilizer.Sample{}, fmt.Errorf("bad x coordinate: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return stabilizer.Sample{}, fmt.Errorf("bad y coordinate: %w", err)
	}

	p := stabilizer.Point{X: x, Y: y}
	if !p.IsFinite() {
		return stabilizer.NoDetection(), nil
	}
	return stabilizer.Detected(p), nil
}
