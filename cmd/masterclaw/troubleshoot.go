package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/aiservice"
	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/heal"
)

// troubleshootReport combines a scan's findings with a gateway health
// probe: the two signals an operator reaches for first when something's
// wrong, without having to run `mc scan` and `mc health` separately.
type troubleshootReport struct {
	Issues        []heal.Issue            `json:"issues"`
	GatewayHealth *aiservice.HealthStatus `json:"gatewayHealth,omitempty"`
	GatewayError  string                   `json:"gatewayError,omitempty"`
}

func newTroubleshootCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "troubleshoot",
		Short:         "Run a scan and a gateway health probe, combined into one diagnostic report",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			issues, err := e.healer.Scan(ctx)
			if err != nil {
				return nil, err
			}
			report := troubleshootReport{Issues: issues}
			health, healthErr := e.gateway.Health(ctx, cc.CorrelationID)
			if healthErr != nil {
				report.GatewayError = healthErr.Error()
			} else {
				report.GatewayHealth = health
			}
			return report, nil
		}),
	}
}
