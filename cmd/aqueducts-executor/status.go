package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqueducts/aqueducts/internal/execproc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the executor is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := execproc.StatusInfo(cfg.Addr())
		if !st.Running {
			fmt.Println("executor is not running")
			return nil
		}
		fmt.Printf("executor running, pid %d, listening on %s\n", st.PID, st.Addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
