package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/backup"
	"github.com/example/masterclaw/internal/dispatch"
)

func newBackupCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "backup",
		Short:         "Snapshot the state directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newBackupCreateCommand(e), newBackupListCommand(e))
	return cmd
}

func newBackupCreateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "create",
		Short:         "Snapshot every state file into a new gzipped tar under backups/",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("deploy", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			manifest, err := backup.Snapshot(ctx, e.stateDir, time.Now())
			if err != nil {
				return nil, err
			}
			if e.auditLog != nil {
				_ = e.auditLog.Append(ctx, audit.Record{
					Timestamp:     time.Now(),
					CorrelationID: cc.CorrelationID,
					UserIdentity:  cc.UserIdentity,
					EventType:     audit.EventBackupOp,
					SubjectRef:    manifest.Path,
					Details:       map[string]any{"files": manifest.Files, "bytes": manifest.Bytes},
				})
			}
			return manifest, nil
		}),
	}
}

func newBackupListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List available snapshots, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return backup.List(e.stateDir)
		}),
	}
}
