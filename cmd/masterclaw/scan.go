package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newScanCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "scan",
		Short:         "Run the L11 category scan and list findings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.healer.Scan(ctx)
		}),
	}
}
