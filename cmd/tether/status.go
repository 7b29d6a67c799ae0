package main

import (
	"context"

	"github.com/aretw0/tether/internal/cli"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect once and print the execution state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		opts.Wait, _ = cmd.Flags().GetDuration("wait")

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()
		return cli.RunStatus(sigCtx, opts)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Duration("wait", cli.DefaultWait, "How long to wait for the runtime to answer")
}
