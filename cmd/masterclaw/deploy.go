package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/aiservice"
	"github.com/example/masterclaw/internal/dispatch"
)

func newDeployCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "deploy <service>",
		Short:         "Trigger a deploy workflow on the AI-service gateway",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("deploy", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := confirmDangerous(flagTrue(cc, "force"), "deploy "+args[0]); err != nil {
				return nil, err
			}
			return e.gateway.RunWorkflow(ctx, cc.CorrelationID, aiservice.WorkflowRunRequest{
				Name: "deploy",
				Args: map[string]any{"service": args[0]},
			}, false)
		}),
	}
}
