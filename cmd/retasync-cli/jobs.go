package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

func newSubmitCommand() *cobra.Command {
	var (
		payload     string
		destination string
		ttl         time.Duration
		transport   string
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "submit <operation>",
		Short: "Submit a command as an async job",
		Long: `Submit a command to the mesh. The daemon answers immediately with a job id;
use 'job status' or --wait to follow it. The payload is inline JSON or @file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := client.SubmitCommand(ctx, args[0], body, httpclient.CommandOptions{
				Destination: destination,
				TTL:         ttl,
				Transport:   transport,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				if jsonOutput {
					return printJSON(out, resp)
				}
				fmt.Fprintf(out, "✅ Job submitted\n")
				fmt.Fprintf(out, "Job ID: %s\n", resp.JobID)
				fmt.Fprintf(out, "Status URL: %s\n", resp.StatusURL)
				return nil
			}
			return waitAndPrint(out, resp.JobID)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "Command payload as JSON, or @file")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination identity hash (default: node default)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Job time-to-live (default: node default)")
	cmd.Flags().StringVar(&transport, "transport", "", "Transport hint: link or propagation")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")

	return cmd
}

func newJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect async jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			job, err := client.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "result <job-id>",
		Short: "Show a succeeded job's result payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			result, err := client.GetJobResult(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printJSON(cmd.OutOrStdout(), result.Result)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "attempts <job-id>",
		Short: "Show a job's dispatch attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			attempts, err := client.GetJobAttempts(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, attempts)
			}
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No attempts recorded")
				return nil
			}
			for _, a := range attempts {
				finished := "-"
				if a.FinishedAt != nil {
					finished = formatTime(*a.FinishedAt)
				}
				fmt.Fprintf(out, "#%d  %-10s  started %s  finished %s", a.AttemptNo, a.Status, formatTime(a.StartedAt), finished)
				if a.Diagnostic != "" {
					fmt.Fprintf(out, "  (%s)", a.Diagnostic)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait until a job succeeds or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitAndPrint(cmd.OutOrStdout(), args[0])
		},
	})

	return cmd
}

// waitAndPrint polls jobID until it is terminal, bounded by --timeout.
// A failed job is reported as an error.
func waitAndPrint(out io.Writer, jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	job, err := client.WaitForJob(ctx, jobID, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed waiting for job %s: %w", jobID, err)
	}
	if err := printJob(out, job); err != nil {
		return err
	}
	if job.Status == httpclient.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.JobID, job.FailureReason)
	}
	return nil
}

func printJob(out io.Writer, job *httpclient.Job) error {
	if jsonOutput {
		return printJSON(out, job)
	}
	fmt.Fprintf(out, "Job ID: %s\n", job.JobID)
	fmt.Fprintf(out, "Operation: %s\n", job.Operation)
	fmt.Fprintf(out, "Status: %s\n", job.Status)
	if job.FailureReason != "" {
		fmt.Fprintf(out, "Failure: %s\n", job.FailureReason)
	}
	fmt.Fprintf(out, "Destination: %s\n", job.DestinationIdentity)
	if job.TransportHint != "" {
		fmt.Fprintf(out, "Transport: %s\n", job.TransportHint)
	}
	fmt.Fprintf(out, "Submitted: %s\n", formatTime(job.SubmittedAt))
	fmt.Fprintf(out, "Updated: %s\n", formatTime(job.UpdatedAt))
	if job.DeadlineAt != nil {
		fmt.Fprintf(out, "Deadline: %s\n", formatTime(*job.DeadlineAt))
	}
	return nil
}
