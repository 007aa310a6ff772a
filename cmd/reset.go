package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/parallax/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB   bool
	resetLogs bool
	resetYes  bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Log Files)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		clearDB, clearLogs := resetTargets(resetDB, resetLogs)

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		if clearDB {
			if resetYes || confirm(reader, out, "⚠️  Are you sure you want to DROP all database tables?") {
				if err := openStore(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if clearLogs {
			file := logFile
			if file == "" {
				file = Env.LogFile
			}
			if file == "" {
				fmt.Fprintln(out, "No log file configured, skipping logs.")
			} else if resetYes || confirm(reader, out, fmt.Sprintf("⚠️  Are you sure you want to delete %s and its rotated backups?", file)) {
				fmt.Fprintln(out, "🗑️  Clearing Log Files...")
				for _, path := range logFiles(file) {
					removeFile(path)
				}
			}
		}

		fmt.Fprintln(out, "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetLogs, "logs", false, "Delete the log file and its rotated backups")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// resetTargets picks what to clear. With no flags set it clears EVERYTHING.
func resetTargets(db, logs bool) (bool, bool) {
	if !db && !logs {
		return true, true
	}
	return db, logs
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// logFiles returns the active log file plus the backups lumberjack rotated
// next to it (name-<timestamp>.ext, optionally gzipped).
func logFiles(file string) []string {
	ext := filepath.Ext(file)
	prefix := strings.TrimSuffix(file, ext)
	backups, _ := filepath.Glob(prefix + "-*" + ext + "*")
	return append([]string{file}, backups...)
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
