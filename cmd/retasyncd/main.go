package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// Application info
	appName    = "retasyncd"
	appVersion = "0.1.0"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Local HTTP bridge that turns requests into async mesh jobs",
		Long: `retasyncd accepts commands, events and file uploads over a local HTTP API,
carries them across the mesh as command/event envelopes and tracks each one as
an asynchronous job until a result arrives or its TTL expires.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the node config file (TOML or YAML; default node.toml)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}
