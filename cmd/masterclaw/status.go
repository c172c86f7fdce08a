package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/metrics"
	"github.com/example/masterclaw/internal/resilience"
)

type statusReport struct {
	Circuits        map[string]resilience.Snapshot `json:"circuits"`
	CostTotalsCents map[string]int64               `json:"costTotalsCents"`
	StateDir        string                          `json:"stateDir"`
	Metrics         []metrics.Sample                `json:"metrics,omitempty"`
}

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Summarize circuit, cost, and state-directory health",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			circuits, err := resilience.Snapshots(e.stateDir, e.logger)
			if err != nil {
				return nil, err
			}
			totals, err := e.costs.Totals(ctx)
			if err != nil {
				return nil, err
			}
			for name, snap := range circuits {
				e.metrics.SetCircuitState(name, snap.State)
			}
			samples, err := e.metrics.Gather()
			if err != nil {
				return nil, err
			}
			return statusReport{Circuits: circuits, CostTotalsCents: totals, StateDir: e.stateDir, Metrics: samples}, nil
		}),
	}
}
