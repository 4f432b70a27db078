package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newCacheCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read inbound traffic cached by the daemon",
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", 0, "Maximum entries (0 = daemon default)")

	cmd.AddCommand(&cobra.Command{
		Use:   "events",
		Short: "List recently received events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			events, err := client.CachedEvents(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No cached events")
				return nil
			}
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-32s from %s  %s\n", formatTime(e.ReceivedAt), e.Name, e.SourceIdentity, e.Payload)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "messages",
		Short: "List recently received commands and transfer frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			messages, err := client.CachedMessages(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, messages)
			}
			if len(messages) == 0 {
				fmt.Fprintln(out, "No cached messages")
				return nil
			}
			for _, m := range messages {
				fmt.Fprintf(out, "%s  %-8s %-32s from %s  %s\n", formatTime(m.ReceivedAt), m.Kind, m.Operation, m.SourceIdentity, m.MessageID)
			}
			return nil
		},
	})

	return cmd
}

func newLogsCommand() *cobra.Command {
	var (
		level    string
		contains string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Read the daemon's recent log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			q := httpclient.LogQuery{Level: level, Contains: contains, Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			lines, err := client.Logs(ctx, q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, lines)
			}
			for _, l := range lines {
				fmt.Fprintf(out, "%s  %-5s  %s", l.Timestamp.Local().Format("15:04:05.000"), l.Level, l.Message)
				for k, v := range l.Fields {
					fmt.Fprintf(out, " %s=%v", k, v)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "Only this level (debug, info, warn, error)")
	cmd.Flags().StringVar(&contains, "contains", "", "Only messages containing this text")
	cmd.Flags().DurationVar(&since, "since", 0, "Only lines newer than this (e.g. 10m)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum lines (0 = daemon default)")

	return cmd
}
