package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/events"
)

// logsReport merges the audit trail and the operator-event feed into one
// view, the closest MasterClaw has to the teacher's combined build/run
// log tail, since this core has no application log of its own to tail.
type logsReport struct {
	Audit  []audit.Record  `json:"audit"`
	Events []events.Record `json:"events"`
}

func newLogsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "logs",
		Short:         "Show recent audit records and operator events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("logs", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			auditRecords, err := e.auditLog.All()
			if err != nil {
				return nil, err
			}
			eventRecords, err := e.eventsStore.List(ctx)
			if err != nil {
				return nil, err
			}
			return logsReport{Audit: auditRecords, Events: eventRecords}, nil
		}),
	}
}
