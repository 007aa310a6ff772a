package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/parallax/internal/config"
	"github.com/andresmejia3/parallax/internal/logger"
	"github.com/andresmejia3/parallax/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// annotationNeedsDB marks commands that use the session store. An empty value
// means always; otherwise it names a bool flag that turns the store on.
const annotationNeedsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Log is the process logger, configured in PersistentPreRunE
	Log *logrus.Logger = logger.Discard()
	// Env holds the environment-derived defaults
	Env config.Env

	dbURL    string
	logLevel string
	logFile  string
	envFile  string
	noColor  bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "parallax",
	Short:   "Head tracking coordinate stabilizer and UDP streamer",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if Env, err = config.Load(envFile); err != nil {
			return err
		}

		file := logFile
		if file == "" {
			file = Env.LogFile
		}
		if Log, err = logger.New(logger.Options{Level: logLevel, File: file, NoColor: noColor}); err != nil {
			return err
		}

		if !needsDB(cmd) {
			return nil
		}
		return openStore(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

func needsDB(cmd *cobra.Command) bool {
	v, ok := cmd.Annotations[annotationNeedsDB]
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	on, err := cmd.Flags().GetBool(v)
	return err == nil && on
}

// openStore connects the global DB if it isn't connected yet.
func openStore(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, config.DatabaseURL(dbURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $POSTGRES_* or "+config.DefaultDatabaseURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this rotating file (default: $PARALLAX_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}
