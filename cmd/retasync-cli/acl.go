package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newAclCommand builds the command group for "allowlist" or "denylist".
func newAclCommand(list string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   list,
		Short: fmt.Sprintf("Manage the %s of caller identity hashes", list),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			acl, err := client.ListAcl(ctx, list)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, acl)
			}
			fmt.Fprintf(out, "%s (mode: %s)\n", acl.List, acl.Mode)
			if len(acl.Entries) == 0 {
				fmt.Fprintln(out, "  no entries")
				return nil
			}
			for _, e := range acl.Entries {
				fmt.Fprintf(out, "  %-4d %s", e.ID, e.IdentityHash)
				if e.Note != "" {
					fmt.Fprintf(out, "  # %s", e.Note)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	})

	var note string
	add := &cobra.Command{
		Use:   "add <identity-hash>",
		Short: "Add an identity hash (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			entry, err := client.AddAcl(ctx, list, args[0], note)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, entry)
			}
			fmt.Fprintf(out, "✅ Added %s to %s (id %d)\n", entry.IdentityHash, list, entry.ID)
			return nil
		},
	}
	add.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <identity-hash>",
		Short: "Remove an identity hash (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := client.RemoveAcl(ctx, list, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed %s from %s\n", args[0], list)
			return nil
		},
	})

	return cmd
}
