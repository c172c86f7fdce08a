package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newMemoryCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memory",
		Short:         "Query the AI-service gateway's memory store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newMemorySearchCommand(e))
	return cmd
}

func newMemorySearchCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "search <query>",
		Short:         "Search stored memory entries",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("status", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			return e.gateway.SearchMemory(ctx, cc.CorrelationID, args[0])
		}),
	}
}
