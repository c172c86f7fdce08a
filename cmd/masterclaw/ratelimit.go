package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newRateLimitCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rate-limit",
		Short:         "Inspect and reset L8 admission-control state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRateLimitShowCommand(e), newRateLimitResetCommand(e))
	return cmd
}

func newRateLimitShowCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "List current bucket occupancy for every (user, category) pair",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.rateLimit.Show(ctx)
		}),
	}
}

func newRateLimitResetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "reset <user-identity> <category>",
		Short:         "Clear one user's admission bucket for a category",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("config-fix", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := e.rateLimit.Reset(ctx, args[0], args[1]); err != nil {
				return nil, err
			}
			return "reset " + args[0] + "/" + args[1], nil
		}),
	}
}
