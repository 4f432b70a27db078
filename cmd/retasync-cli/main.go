package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

var (
	// Global flags
	serverURL  string
	identity   string
	token      string
	timeout    time.Duration
	jsonOutput bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "retasync-cli",
		Short: "retasyncd HTTP API command line interface",
		Long: `retasync-cli is a command line interface for the retasyncd HTTP API.
It submits commands, events and file transfers as async jobs, follows their
progress, and manages node configuration and the allow/deny lists.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "retasyncd server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RETASYNC_TOKEN"), "Bearer token minted by 'retasyncd token' (env RETASYNC_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "Caller identity for daemons running without auth")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")

	// Add subcommands
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newJobCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newTransferCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newNodeCommand())
	rootCmd.AddCommand(newAclCommand("allowlist"))
	rootCmd.AddCommand(newAclCommand("denylist"))
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newContractCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		Token:     token,
		Identity:  identity,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// printJSON writes v indented. Used for --json and for opaque payloads.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parsePayload accepts inline JSON or @file.
func parsePayload(raw string) (json.RawMessage, error) {
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	data := []byte(raw)
	if raw[0] == '@' {
		var err error
		if data, err = os.ReadFile(raw[1:]); err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	return json.RawMessage(data), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
