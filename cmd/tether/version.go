package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tether"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tether",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tether version %s\n", strings.TrimSpace(tether.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
