package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tether/internal/cli"
	"github.com/aretw0/tether/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether keeps a dashboard in sync with a running LLM workflow runtime",
	Long: `Tether connects to a workflow runtime over a websocket, probes it for liveness,
reconnects when the transport drops and reconciles the execution state it streams.

A process://<name> endpoint launches a local runtime listed in runtimes.yaml and
talks to it over stdio instead.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("config", "tether.yaml", "Configuration file (YAML or JSON)")
	flags.String("env-file", ".env", "Environment file loaded before the configuration")
	flags.StringP("project", "p", "", "Project (flow) to attach to")
	flags.String("endpoint", "", "Runtime base URL (ws, wss, http, https or process://<name>)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("json", false, "Print machine readable output")
}

// loadOptions resolves the configuration: .env, then the file, then
// TETHER_* variables, then flags.
func loadOptions(cmd *cobra.Command) (cli.Options, error) {
	flags := cmd.Flags()

	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return cli.Options{}, err
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cli.Options{}, err
	}

	if flags.Changed("project") {
		cfg.Project, _ = flags.GetString("project")
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint, _ = flags.GetString("endpoint")
	}
	if err := cfg.Validate(); err != nil {
		return cli.Options{}, fmt.Errorf("invalid configuration: %w", err)
	}

	debug, _ := flags.GetBool("debug")
	jsonOut, _ := flags.GetBool("json")
	return cli.Options{
		Config: cfg,
		Debug:  debug,
		JSON:   jsonOut,
		Out:    cmd.OutOrStdout(),
	}, nil
}
