package cmd

import (
	"fmt"

	"github.com/andresmejia3/parallax/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <session_id> <name>",
	Short: "Assign a name to a recorded session",
	Args:  cobra.ExactArgs(2),
	Annotations: map[string]string{
		annotationNeedsDB: "",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session ID %q: %w", args[0], err)
		}
		name := args[1]

		if err := DB.LabelSession(cmd.Context(), id, name); err != nil {
			utils.ShowError("Failed to label session", err, nil)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Session %s labeled as '%s'\n", id.String()[:8], name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
