package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Node status and runtime configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show node identity, health and uptime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			status, err := client.GetStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, status)
			}
			fmt.Fprintf(out, "Identity: %s\n", status.Identity)
			fmt.Fprintf(out, "Version: %s\n", status.Version)
			fmt.Fprintf(out, "Healthy: %t\n", status.Healthy)
			fmt.Fprintf(out, "Ready: %t\n", status.Ready)
			fmt.Fprintf(out, "Link: %s\n", status.LinkState)
			fmt.Fprintf(out, "In flight: %d\n", status.InFlight)
			fmt.Fprintf(out, "ACL mode: %s\n", status.ACLMode)
			fmt.Fprintf(out, "Uptime: %s\n", time.Duration(status.UptimeSeconds)*time.Second)
			if status.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", status.Message)
			}
			return nil
		},
	})

	cmd.AddCommand(newConfigCommand())

	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change runtime configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			cfg, err := client.GetConfig(ctx)
			if err != nil {
				return err
			}
			return printNodeConfig(cmd.OutOrStdout(), cfg)
		},
	}

	var (
		aclMode            string
		preferLink         string
		jobs, cache, xfers string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Apply a config patch (admin only)",
		Long: `Apply a partial config update. Only flags that are given are changed.
Every accepted update is stored as a new config revision.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			if aclMode != "" {
				patch["acl_mode"] = aclMode
			}
			if preferLink != "" {
				prefer, err := strconv.ParseBool(preferLink)
				if err != nil {
					return fmt.Errorf("invalid --prefer-link: %w", err)
				}
				patch["prefer_link"] = prefer
			}
			retention := map[string]string{}
			for key, value := range map[string]string{"jobs": jobs, "cache": cache, "transfers": xfers} {
				if value != "" {
					retention[key] = value
				}
			}
			if len(retention) > 0 {
				patch["retention"] = retention
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to change; pass at least one flag")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			update, err := client.UpdateConfig(ctx, patch)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, update)
			}
			fmt.Fprintf(out, "✅ Config revision %d stored\n", update.RevisionID)
			return printNodeConfig(out, &update.Config)
		},
	}
	set.Flags().StringVar(&aclMode, "acl-mode", "", "disabled, allowlist or denylist")
	set.Flags().StringVar(&preferLink, "prefer-link", "", "true or false")
	set.Flags().StringVar(&jobs, "retention-jobs", "", "Job retention (e.g. 24h)")
	set.Flags().StringVar(&cache, "retention-cache", "", "Cache retention (e.g. 24h)")
	set.Flags().StringVar(&xfers, "retention-transfers", "", "Transfer retention (e.g. 168h)")
	cmd.AddCommand(set)

	return cmd
}

func printNodeConfig(out io.Writer, cfg *httpclient.NodeConfig) error {
	if jsonOutput {
		return printJSON(out, cfg)
	}
	fmt.Fprintf(out, "ACL mode: %s\n", cfg.ACLMode)
	fmt.Fprintf(out, "Prefer link: %t\n", cfg.PreferLink)
	fmt.Fprintf(out, "Retention: jobs=%s cache=%s transfers=%s\n", cfg.Retention.Jobs, cfg.Retention.Cache, cfg.Retention.Transfers)
	return nil
}

func newContractCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Print the AsyncAPI document for this node's envelopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			doc, err := client.Contract(ctx, asJSON || jsonOutput)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "as-json", false, "Request JSON instead of YAML")

	return cmd
}
