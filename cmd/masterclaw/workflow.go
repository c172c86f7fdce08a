package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/aiservice"
	"github.com/example/masterclaw/internal/dispatch"
)

func newWorkflowCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workflow",
		Short:         "Run workflows on the AI-service gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newWorkflowRunCommand(e))
	return cmd
}

func newWorkflowRunCommand(e *env) *cobra.Command {
	var idempotent bool
	cmd := &cobra.Command{
		Use:           "run <name>",
		Short:         "Trigger a named workflow run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("workflow", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := confirmDangerous(flagTrue(cc, "force"), "run workflow "+args[0]); err != nil {
				return nil, err
			}
			return e.gateway.RunWorkflow(ctx, cc.CorrelationID, aiservice.WorkflowRunRequest{Name: args[0]}, idempotent)
		}),
	}
	cmd.Flags().BoolVar(&idempotent, "idempotent", false, "Mark this run as safe for L7 to retry on transient failure")
	return cmd
}
