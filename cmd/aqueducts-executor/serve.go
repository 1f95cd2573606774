package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/execproc"
	"github.com/aqueducts/aqueducts/internal/executorsvc"
	"github.com/aqueducts/aqueducts/internal/runner"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

var serveBackground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the executor service",
	Long: `Serve starts the executor's WebSocket/HTTP server and begins accepting
pipeline runs. With --background it detaches into a child process and
records its PID under ~/.aqueducts, matching "executor status"/"executor
stop".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveBackground && !execproc.IsBackgroundProcess() {
			pid, err := execproc.Background(os.Args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("executor started in background, pid %d\n", pid)
			return nil
		}

		if err := execproc.WritePID(); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer execproc.RemovePID()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := executorsvc.New(func(l zerolog.Logger) (sqlengine.Context, error) {
			return sqlengine.NewSQLiteContext(l)
		}, cfg.MemoryBudgetBytes, cfg.QueueCapacity, nil, logger)

		srv := executorsvc.NewServer(svc, cfg.APIKey, logger)
		logger.Info().Str("addr", cfg.Addr()).Msg("executor serving")
		return srv.Start(ctx, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveBackground, "background", false, "Detach into a background process")
	rootCmd.AddCommand(serveCmd)
}
