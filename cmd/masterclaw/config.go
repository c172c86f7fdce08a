package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/errs"
)

func newConfigCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "config",
		Short:         "Inspect and modify the persisted ConfigTree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newConfigShowCommand(e), newConfigGetCommand(e), newConfigSetCommand(e))
	return cmd
}

func newConfigShowCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the full ConfigTree",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			return e.configStore.Load(ctx)
		}),
	}
}

func newConfigGetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "get <dotted.key>",
		Short:         "Print one ConfigTree value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("status", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			tree, err := e.configStore.Load(ctx)
			if err != nil {
				return nil, err
			}
			val, ok := lookupDotted(tree, args[0])
			if !ok {
				return nil, errs.New(errs.KindAbsent, errs.CodeNotFound, fmt.Sprintf("config key %q not set", args[0]))
			}
			return val, nil
		}),
	}
}

func newConfigSetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "set <dotted.key> <value>",
		Short:         "Set one ConfigTree value and persist it",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("config-fix", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			patch := setDotted(map[string]any{}, args[0], args[1])
			merged, err := e.configStore.Merge(ctx, patch)
			if err != nil {
				return nil, err
			}
			return merged, nil
		}),
	}
}

func lookupDotted(tree map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = tree
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setDotted(root map[string]any, dotted string, value any) map[string]any {
	parts := strings.Split(dotted, ".")
	cur := root
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			break
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	return root
}
