// Command aqueducts-executor runs the executor service (C10): a process
// that accepts pipeline runs from remote aqueducts clients over
// WebSocket, queues them behind a single execution slot, and streams
// progress back, adapted from the teacher's cmd/pgmigrator root command.
package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/config"
)

var (
	cfg       config.ExecutorConfig
	logger    zerolog.Logger
	logOutput io.Writer
)

var rootCmd = &cobra.Command{
	Use:   "aqueducts-executor",
	Short: "Pipeline executor service",
	Long: `aqueducts-executor accepts pipeline documents from remote aqueducts
clients over WebSocket, runs at most one at a time behind a FIFO queue, and
streams progress events back to whichever client submitted the run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		switch cfg.Logging.Format {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)

		return nil
	},
}

func init() {
	config.BindExecutorFlags(rootCmd, &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
