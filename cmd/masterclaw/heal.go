package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
)

func newHealCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "heal",
		Short:         "Scan, plan, and apply fixes from the L11 self-heal orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newHealPlanCommand(e), newHealApplyCommand(e))
	return cmd
}

func newHealPlanCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "plan",
		Short:         "Scan and render a dry-run fix plan without mutating anything",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			issues, err := e.healer.Scan(ctx)
			if err != nil {
				return nil, err
			}
			return e.healer.Plan(issues), nil
		}),
	}
}

func newHealApplyCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "apply",
		Short:         "Scan, plan, and execute fixable actions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("deploy", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			if err := confirmDangerous(flagTrue(cc, "force"), "apply heal actions"); err != nil {
				return nil, err
			}
			issues, err := e.healer.Scan(ctx)
			if err != nil {
				return nil, err
			}
			plan := e.healer.Plan(issues)
			return e.healer.Apply(ctx, plan)
		}),
	}
}
