package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon readiness",
		Long:  "Check whether the daemon is up and its mesh transport is reachable",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	health, err := client.Ready(ctx)
	var apiErr *httpclient.APIError
	if err != nil && !errors.As(err, &apiErr) {
		return fmt.Errorf("failed to check health: %w", err)
	}
	if jsonOutput {
		if perr := printJSON(out, health); perr != nil {
			return perr
		}
		return err
	}

	if health.Ready {
		fmt.Fprintf(out, "✅ Daemon is ready!\n")
	} else {
		fmt.Fprintf(out, "❌ Daemon is not ready!\n")
	}
	fmt.Fprintf(out, "Store healthy: %t\n", health.StoreHealthy)
	fmt.Fprintf(out, "Link: %s\n", health.LinkState)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	if !health.Ready {
		return errors.New("daemon is not ready")
	}
	return nil
}
