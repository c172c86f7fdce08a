package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newEventsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "events",
		Short:         "List and acknowledge operator-visible events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newEventsListCommand(e), newEventsAckCommand(e))
	return cmd
}

func newEventsListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List events, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.eventsStore.List(ctx)
		}),
	}
}

func newEventsAckCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "ack <event-id>",
		Short:         "Mark an event as acknowledged",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("status", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := e.eventsStore.Acknowledge(ctx, args[0]); err != nil {
				return nil, err
			}
			return "acknowledged " + args[0], nil
		}),
	}
}
