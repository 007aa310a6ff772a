package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/parallax/internal/types"
	"github.com/andresmejia3/parallax/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded tracking sessions",
	Annotations: map[string]string{
		annotationNeedsDB: "",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		sessions, err := DB.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			utils.ShowError("Failed to list sessions", err, nil)
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions to show (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, sessions []types.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSOURCE\tSTARTED\tDURATION\tFRAMES\tDETECTED\tFPS")
	fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t------\t--------\t---")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.1f%%\t%.1f\n",
			s.ID.String()[:8],
			orDash(s.Label),
			filepath.Base(s.Source),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			fmtDuration(s),
			s.Summary.Frames,
			s.Summary.DetectionRate(),
			s.Summary.AvgFPS,
		)
	}
	w.Flush()
}

// fmtDuration renders the session length as HH:MM:SS, or "running" if it never finished.
func fmtDuration(s types.Session) string {
	if s.EndedAt == nil {
		return "running"
	}
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
