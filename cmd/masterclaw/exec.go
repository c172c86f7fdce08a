package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/containerexec"
	"github.com/example/masterclaw/internal/dispatch"
)

func newExecCommand(e *env) *cobra.Command {
	var shell bool
	var timeoutMs int
	var disableEnvelope bool

	cmd := &cobra.Command{
		Use:           "exec <container> -- <command> [args...]",
		Short:         "Run a validated, resource-capped command in a whitelisted container",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("exec", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			container := args[0]
			tokens := args[1:]
			return e.containers.Exec(ctx, containerexec.Request{
				Container:       container,
				CommandTokens:   tokens,
				Shell:           shell,
				TimeoutMillis:   timeoutMs,
				DisableEnvelope: disableEnvelope,
				CorrelationID:   cc.CorrelationID,
				UserIdentity:    cc.UserIdentity,
			})
		}),
	}
	cmd.Flags().BoolVar(&shell, "shell", false, "Run the command through the container's shell form")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 30000, "Command timeout in milliseconds")
	cmd.Flags().BoolVar(&disableEnvelope, "no-resource-envelope", false, "Skip applying the default resource envelope")
	return cmd
}
