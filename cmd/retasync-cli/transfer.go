package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newUploadCommand() *cobra.Command {
	var (
		mediaType   string
		destination string
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Send a file across the mesh as a chunked transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if mediaType == "" {
				mediaType = mime.TypeByExtension(filepath.Ext(args[0]))
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := client.UploadFile(ctx, httpclient.UploadRequest{
				FileName:      filepath.Base(args[0]),
				MediaType:     mediaType,
				PayloadBase64: base64.StdEncoding.EncodeToString(data),
				Destination:   destination,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if wait {
				return waitAndPrint(out, resp.JobID)
			}
			if jsonOutput {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "✅ Transfer submitted (%d bytes)\n", len(data))
			fmt.Fprintf(out, "Transfer ID: %s\n", resp.TransferID)
			fmt.Fprintf(out, "Status URL: %s\n", resp.StatusURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type (default: guessed from extension)")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination identity hash (default: node default)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the transfer job to finish")

	return cmd
}

func newTransferCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <transfer-id>",
		Short: "Show a file transfer's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			t, err := client.GetTransfer(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, t)
			}
			fmt.Fprintf(out, "Transfer ID: %s\n", t.TransferID)
			fmt.Fprintf(out, "File: %s (%s, %d bytes)\n", t.FileName, t.MediaType, t.Size)
			fmt.Fprintf(out, "Checksum: %s\n", t.Checksum)
			fmt.Fprintf(out, "Status: %s\n", t.Status)
			if t.FailureReason != "" {
				fmt.Fprintf(out, "Failure: %s\n", t.FailureReason)
			}
			fmt.Fprintf(out, "Chunks: %d sent, %d acknowledged of %d\n", t.ChunksSent, t.ChunksAcknowledged, t.ChunksTotal)
			fmt.Fprintf(out, "Destination: %s\n", t.DestinationIdentity)
			fmt.Fprintf(out, "Updated: %s\n", formatTime(t.UpdatedAt))
			return nil
		},
	}
}
