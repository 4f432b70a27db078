package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		kinds       []string
		jobIDs      []string
		transferIDs []string
		bufferSize  int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow job, transfer and link notifications in real time",
		Long: `Stream notifications from the daemon using Server-Sent Events.
Filters are ANDed; a kind may end in ".*" (e.g. "transfer.*").
Press Ctrl+C to stop streaming.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runStream(ctx, cmd.OutOrStdout(), httpclient.StreamConfig{
				Kinds:       kinds,
				JobIDs:      jobIDs,
				TransferIDs: transferIDs,
				BufferSize:  bufferSize,
			}, limit)
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Notification kinds to follow")
	cmd.Flags().StringSliceVar(&jobIDs, "job", nil, "Job ids to follow")
	cmd.Flags().StringSliceVar(&transferIDs, "transfer", nil, "Transfer ids to follow")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Notification buffer size")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many notifications (0 = unlimited)")

	return cmd
}

// runStream prints notifications until ctx ends, the stream closes or
// limit notifications have arrived.
func runStream(ctx context.Context, out io.Writer, config httpclient.StreamConfig, limit int) error {
	streamClient, err := client.Stream(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() { _ = streamClient.Close() }()

	if !jsonOutput {
		fmt.Fprintf(out, "🌊 Streaming notifications from %s (Ctrl+C to stop)\n", serverURL)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(out, "\n✅ Stream stopped. Received %d notifications.\n", count)
			}
			return nil

		case n, ok := <-streamClient.Notifications():
			if !ok {
				return nil
			}
			count++
			if err := printNotification(out, n); err != nil {
				return err
			}
			if limit > 0 && count >= limit {
				return nil
			}

		case err, ok := <-streamClient.Errors():
			if !ok {
				return nil
			}
			// Non-fatal; the client reconnects.
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)
		}
	}
}

func printNotification(out io.Writer, n httpclient.Notification) error {
	if jsonOutput {
		return printJSON(out, n)
	}
	fmt.Fprintf(out, "[%d] %s %s", n.Seq, n.At.Local().Format("15:04:05.000"), n.Kind)
	if n.JobID != "" {
		fmt.Fprintf(out, " job=%s", n.JobID)
	}
	if n.TransferID != "" {
		fmt.Fprintf(out, " transfer=%s", n.TransferID)
	}
	if len(n.Data) > 0 {
		fmt.Fprintf(out, " %s", n.Data)
	}
	fmt.Fprintln(out)
	return nil
}
