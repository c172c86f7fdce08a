package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

// newSearchCommand is the top-level `mc search` alias for `mc memory
// search`: the CLI surface table lists search as its own category (with
// its own rate-limit bucket), separate from the memory noun. No cost is
// recorded for it.
func newSearchCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "search <query>",
		Short:         "Search stored memory entries via the AI-service gateway",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("search", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			return e.gateway.SearchMemory(ctx, cc.CorrelationID, args[0])
		}),
	}
}
