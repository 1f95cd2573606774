package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/remoteclient"
	"github.com/aqueducts/aqueducts/internal/runner"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
	"github.com/aqueducts/aqueducts/internal/tui"
)

var (
	runVars   []string
	runShowUI bool
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline-file>",
	Short: "Execute a pipeline document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read pipeline file: %w", err)
		}

		vars, err := parseVars(runVars)
		if err != nil {
			return err
		}

		if cfg.ExecutorURL != "" {
			return runRemote(cmd.Context(), string(data), path, vars)
		}
		return runLocal(cmd.Context(), string(data), path, vars)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, `Template variable in key=value form (repeatable)`)
	runCmd.Flags().BoolVar(&runShowUI, "tui", false, "Show the terminal progress dashboard")
	rootCmd.AddCommand(runCmd)
}

func parseVars(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}
		vars[parts[0]] = parts[1]
	}
	return vars, nil
}

func runLocal(ctx context.Context, document, path string, vars map[string]string) error {
	format, err := pipeline.DetectFormat(path)
	if err != nil {
		return err
	}
	p, err := pipeline.Parse(document, format, vars)
	if err != nil {
		return err
	}

	var tracker progress.Tracker
	bridge := progress.NewChannelBridge(logger)
	tracker = bridge

	r := runner.New(func(l zerolog.Logger) (sqlengine.Context, error) {
		return sqlengine.NewSQLiteContext(l)
	}, logger)

	if runShowUI {
		errCh := make(chan error, 1)
		go func() {
			errCh <- r.Run(ctx, p, runner.Options{Tracker: tracker})
		}()
		if err := tui.Run(bridge); err != nil {
			return err
		}
		return <-errCh
	}

	logTracker := progress.NewLogging(logger)
	tracker = progress.Multi(bridge, logTracker)
	return r.Run(ctx, p, runner.Options{Tracker: tracker})
}

func runRemote(ctx context.Context, document, path string, vars map[string]string) error {
	format, err := pipeline.DetectFormat(path)
	if err != nil {
		return err
	}

	client := remoteclient.New(cfg.ExecutorURL, cfg.APIKey, logger)
	runID := uuid.NewString()
	tracker := progress.NewLogging(logger)
	return client.Run(ctx, runID, document, string(format), vars, tracker)
}
