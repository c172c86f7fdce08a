package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/backup"
	"github.com/example/masterclaw/internal/dispatch"
)

func newRestoreCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "restore <snapshot-path>",
		Short:         "Restore state files from a snapshot produced by `mc backup create`",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("restore", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			if err := confirmDangerous(flagTrue(cc, "force"), "restore state from "+args[0]); err != nil {
				return nil, err
			}
			manifest, err := backup.Restore(ctx, e.stateDir, args[0])
			if err != nil {
				return nil, err
			}
			if e.auditLog != nil {
				_ = e.auditLog.Append(ctx, audit.Record{
					Timestamp:     time.Now(),
					CorrelationID: cc.CorrelationID,
					UserIdentity:  cc.UserIdentity,
					EventType:     audit.EventRestoreOp,
					SubjectRef:    manifest.Path,
					Details:       map[string]any{"files": manifest.Files},
				})
			}
			return manifest, nil
		}),
	}
}
