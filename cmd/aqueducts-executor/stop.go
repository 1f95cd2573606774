package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/execproc"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background executor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := execproc.Stop(); err != nil {
			return err
		}
		fmt.Println("executor stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
