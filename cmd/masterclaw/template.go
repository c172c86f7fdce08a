package main

import (
	"context"

	"github.com/spf13/cobra"

	mcconfig "github.com/example/masterclaw/internal/config"
	"github.com/example/masterclaw/internal/dispatch"
)

// newTemplateCommand seeds a starter ConfigTree for a fresh state
// directory: an empty secrets-provider section and the gateway base URL
// placeholder, so `mc config show` has something sensible to display
// before an operator has run `mc config set` by hand.
func newTemplateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "template",
		Short:         "Seed starter configuration into a fresh state directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newTemplateInitCommand(e))
	return cmd
}

func newTemplateInitCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "init",
		Short:         "Write the default configuration skeleton if none exists yet",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("config-fix", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			existing, err := e.configStore.Load(ctx)
			if err != nil {
				return nil, err
			}
			if len(existing) > 0 {
				return "configuration already present; nothing to seed", nil
			}
			skeleton := mcconfig.Tree{
				"gateway": map[string]any{"baseURL": ""},
				"secrets": map[string]any{"defaultProvider": "", "providers": map[string]any{}},
			}
			return e.configStore.Merge(ctx, skeleton)
		}),
	}
}
