package main

import (
	"context"
	"strings"

	"github.com/aretw0/tether/internal/cli"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/spf13/cobra"
)

func clientKindNames() []string {
	names := make([]string, 0, len(protocol.ClientKinds))
	for _, k := range protocol.ClientKinds {
		names = append(names, string(k))
	}
	return names
}

var sendCmd = &cobra.Command{
	Use:       "send <type>",
	Short:     "Connect once and send a control event",
	Long:      "Sends one control event. Valid types: " + strings.Join(clientKindNames(), ", "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: clientKindNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		opts.Wait, _ = cmd.Flags().GetDuration("wait")

		raw, _ := cmd.Flags().GetString("payload")
		payload, err := cli.ParsePayload(raw)
		if err != nil {
			return err
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()
		return cli.RunSend(sigCtx, opts, args[0], payload)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("payload", "", `JSON object sent next to the type, e.g. '{"until_node_id":"judge"}'`)
	sendCmd.Flags().Duration("wait", cli.DefaultWait, "How long to wait for the runtime to answer")
}
