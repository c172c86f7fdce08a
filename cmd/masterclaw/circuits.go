package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/resilience"
)

func newCircuitsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "circuits",
		Short:         "Inspect and reset L7 circuit breakers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCircuitsShowCommand(e), newCircuitsResetCommand(e))
	return cmd
}

func newCircuitsShowCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the persisted state of every named circuit breaker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return resilience.Snapshots(e.stateDir, e.logger)
		}),
	}
}

func newCircuitsResetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "reset <name>",
		Short:         "Force a circuit breaker back to closed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("config-fix", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			e.circuits.Reset(args[0])
			return "reset circuit " + args[0], nil
		}),
	}
}
