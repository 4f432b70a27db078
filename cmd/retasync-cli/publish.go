package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		payload     string
		destination string
	)

	cmd := &cobra.Command{
		Use:   "publish <event>",
		Short: "Publish a fire-and-forget event",
		Long: `Publish an event to the mesh. Events create no job; the answer only says
which transport accepted the envelope. The payload is inline JSON or @file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := client.PublishEvent(ctx, args[0], body, destination)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "✅ Event published\n")
			fmt.Fprintf(out, "Message ID: %s\n", resp.MessageID)
			fmt.Fprintf(out, "Transport: %s\n", resp.Transport)
			fmt.Fprintf(out, "Accepted: %s\n", formatTime(resp.AcceptedAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "Event payload as JSON, or @file")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination identity hash (default: node default)")

	return cmd
}
