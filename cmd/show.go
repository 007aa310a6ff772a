package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/parallax/internal/types"
	"github.com/andresmejia3/parallax/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <session_id>",
	Short: "Show the settings and performance of a recorded session",
	Args:  cobra.ExactArgs(1),
	Annotations: map[string]string{
		annotationNeedsDB: "",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session ID %q: %w", args[0], err)
		}
		sess, err := DB.GetSession(cmd.Context(), id)
		if err != nil {
			utils.ShowError("Failed to load session", err, nil)
			return err
		}
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func printSession(out io.Writer, s types.Session) {
	sum := s.Summary
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Session:\t%s\n", s.ID)
	fmt.Fprintf(w, "Label:\t%s\n", orDash(s.Label))
	fmt.Fprintf(w, "Source:\t%s\n", s.Source)
	fmt.Fprintf(w, "Started:\t%s\n", fmtTime(&s.StartedAt))
	fmt.Fprintf(w, "Ended:\t%s\n", fmtTime(s.EndedAt))
	fmt.Fprintf(w, "Duration:\t%s\n", fmtDuration(s))
	fmt.Fprintf(w, "Smoothing:\talpha %.2f, hold %d frames\n", s.Alpha, s.MaxMissed)
	fmt.Fprintf(w, "Payload:\t%s\n", s.PayloadFormat)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Frames:\t%d\n", sum.Frames)
	fmt.Fprintf(w, "Detections:\t%d (%.1f%%)\n", sum.Detections, sum.DetectionRate())
	fmt.Fprintf(w, "Held:\t%d\n", sum.Held)
	fmt.Fprintf(w, "Absent:\t%d\n", sum.Absent)
	fmt.Fprintf(w, "Average FPS:\t%.1f\n", sum.AvgFPS)
	fmt.Fprintf(w, "Jitter:\tx %.4f, y %.4f\n", sum.JitterX, sum.JitterY)
	fmt.Fprintf(w, "Latency:\tmean %.1fms, p50 %.1fms, p95 %.1fms\n", sum.LatencyMeanMs, sum.LatencyP50Ms, sum.LatencyP95Ms)
	w.Flush()
}
