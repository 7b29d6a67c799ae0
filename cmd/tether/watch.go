package main

import (
	"context"
	"fmt"

	"github.com/aretw0/tether/internal/cli"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print status, notifications and intents",
	Long: `Keeps the project connected until interrupted. Optionally serves the session
over HTTP (status, snapshot, SSE events, metrics) and mirrors it into Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		serve, _ := cmd.Flags().GetBool("serve")
		if cmd.Flags().Changed("addr") {
			opts.Config.HTTP.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("redis") {
			opts.Config.Redis.Addr, _ = cmd.Flags().GetString("redis")
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		err = cli.RunWatch(sigCtx, cli.WatchOptions{
			Options: opts,
			Serve:   serve,
			Mirror:  opts.Config.Redis.Addr != "",
		})
		if sig := sigCtx.Signal(); sig != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "received %s, connection closed\n", sig)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("serve", false, "Expose the session over HTTP")
	watchCmd.Flags().String("addr", "", "HTTP listen address (overrides http.addr)")
	watchCmd.Flags().String("redis", "", "Redis address to mirror the session to (overrides redis.addr)")
}
