package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newSessionCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "session",
		Short:         "List sessions known to the AI-service gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newSessionListCommand(e))
	return cmd
}

func newSessionListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List gateway sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.gateway.ListSessions(ctx, cc.CorrelationID)
		}),
	}
}
