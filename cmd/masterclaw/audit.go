package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newAuditCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "audit",
		Short:         "Inspect and verify the HMAC-chained security log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newAuditListCommand(e), newAuditVerifyCommand(e))
	return cmd
}

func newAuditListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "Print every record in the audit log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.auditLog.All()
		}),
	}
}

func newAuditVerifyCommand(e *env) *cobra.Command {
	var from int
	cmd := &cobra.Command{
		Use:           "verify",
		Short:         "Replay the HMAC chain and report the first broken link, if any",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.auditLog.Verify(from)
		}),
	}
	cmd.Flags().IntVar(&from, "from", 0, "Skip replay of records before this absolute index, trusting them as already verified")
	return cmd
}
