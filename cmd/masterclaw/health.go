package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newHealthCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "health",
		Short:         "Check the AI-service gateway's /health endpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.gateway.Health(ctx, cc.CorrelationID)
		}),
	}
}
