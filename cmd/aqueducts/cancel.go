package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/remoteclient"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run on a remote executor service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ExecutorURL == "" {
			return fmt.Errorf("cancel requires --executor-url (local runs are cancelled with ctrl-c)")
		}

		client := remoteclient.New(cfg.ExecutorURL, cfg.APIKey, logger)
		return client.Cancel(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
