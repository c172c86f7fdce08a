package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/resilience"
)

// dashboardReport is the one-shot "everything an operator wants to see
// at a glance" view: circuits, budget, and the number of unacknowledged
// events (the events themselves are not included), composed from data
// status.go and events.go already expose rather than a new subsystem.
type dashboardReport struct {
	Circuits          map[string]resilience.Snapshot `json:"circuits"`
	CostTotalsCents   map[string]int64               `json:"costTotalsCents"`
	UnacknowledgedLen int                             `json:"unacknowledgedEvents"`
}

func newDashboardCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "dashboard",
		Short:         "Summarize circuits, cost, and unacknowledged events in one view",
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
			allEvents, err := e.eventsStore.List(ctx)
			if err != nil {
				return nil, err
			}
			unacked := 0
			for _, ev := range allEvents {
				if !ev.Acknowledged {
					unacked++
				}
			}
			return dashboardReport{Circuits: circuits, CostTotalsCents: totals, UnacknowledgedLen: unacked}, nil
		}),
	}
}
