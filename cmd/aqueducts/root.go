// Command aqueducts runs declarative ETL pipeline documents, either
// in-process or against a remote executor service, adapted from the
// teacher's cmd/pgmigrator root command (persistent flags + zerolog
// setup in PersistentPreRunE).
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
	cfg       config.ClientConfig
	logger    zerolog.Logger
	logOutput io.Writer
)

var rootCmd = &cobra.Command{
	Use:   "aqueducts",
	Short: "Declarative ETL pipeline runner",
	Long: `aqueducts runs declarative pipeline documents: register sources, run
SQL stages over them, and write destinations. A pipeline can run entirely
in-process, or be submitted to a remote executor service over WebSocket.`,
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
	config.BindClientFlags(rootCmd, &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
