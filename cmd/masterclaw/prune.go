package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/heal"
)

// newPruneCommand exposes just the artifacts category of the heal
// orchestrator: dangling images, exited containers, unused volumes and
// networks, per §4.11's prune step. `mc heal apply` runs the full fixed
// order (services, permissions, circuits, then artifacts); `mc prune`
// scopes down to artifacts alone for operators who only want that.
func newPruneCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "prune",
		Short:         "Remove unprotected dangling docker artifacts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("deploy", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			if err := confirmDangerous(flagTrue(cc, "force"), "prune unprotected docker artifacts"); err != nil {
				return nil, err
			}
			issues, err := e.healer.Scan(ctx)
			if err != nil {
				return nil, err
			}
			var artifacts []heal.Issue
			for _, issue := range issues {
				if issue.Category == heal.CategoryArtifacts {
					artifacts = append(artifacts, issue)
				}
			}
			plan := e.healer.Plan(artifacts)
			return e.healer.Apply(ctx, plan)
		}),
	}
}
