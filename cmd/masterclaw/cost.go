package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/cost"
	"github.com/example/masterclaw/internal/dispatch"
)

func newCostCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cost",
		Short:         "Inspect and reset per-category budget accounting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCostShowCommand(e), newCostResetCommand(e))
	return cmd
}

func newCostShowCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print running cost totals per category",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.costs.Totals(ctx)
		}),
	}
}

func newCostResetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "reset <category>",
		Short:         "Zero a category's running total for a new billing period",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("config-fix", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := e.costs.Reset(ctx, args[0]); err != nil {
				return nil, err
			}
			return "reset cost category " + args[0], nil
		}),
	}
}

// sloReport compares each category's running total against its policy
// limit, the view `mc slo` gives operators watching for budget
// exhaustion without cross-referencing internal/cost's policy table by
// hand.
type sloReport struct {
	Category   string `json:"category"`
	TotalCents int64  `json:"totalCents"`
	LimitCents int64  `json:"limitCents"`
	PercentUsed float64 `json:"percentUsed"`
}

func newSLOCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "slo",
		Short:         "Report budget consumption against policy limits per category",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			totals, err := e.costs.Totals(ctx)
			if err != nil {
				return nil, err
			}
			reports := make([]sloReport, 0, len(totals))
			for category, total := range totals {
				policy := cost.PolicyFor(category)
				var pct float64
				if policy.LimitCents > 0 {
					pct = float64(total) / float64(policy.LimitCents) * 100
				}
				reports = append(reports, sloReport{
					Category:    category,
					TotalCents:  total,
					LimitCents:  policy.LimitCents,
					PercentUsed: pct,
				})
			}
			return reports, nil
		}),
	}
}
