package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/secretstore"
)

func newSecretsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "secrets",
		Short:         "Resolve and audit secret:// references against configured providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newSecretsResolveCommand(e), newSecretsProvidersCommand(e), newSecretsListCommand(e))
	return cmd
}

func newSecretsProvidersCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "providers",
		Short:         "List configured secret providers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			resolver, err := e.buildSecretResolver(ctx, secretstore.ResolveModeMask)
			if err != nil {
				return nil, err
			}
			return resolver.ProviderNames(), nil
		}),
	}
}

func newSecretsResolveCommand(e *env) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:           "resolve <secret-ref>",
		Short:         "Resolve a secret:// reference, masked unless --reveal is confirmed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.DispatchArgs("config-fix", func(ctx context.Context, cc *dispatch.CommandContext, args []string) (any, error) {
			mode := secretstore.ResolveModeMask
			if reveal {
				if err := confirmDangerous(flagTrue(cc, "force"), "reveal the resolved secret value"); err != nil {
					return nil, err
				}
				mode = secretstore.ResolveModeValue
			}
			resolver, err := e.buildSecretResolver(ctx, mode)
			if err != nil {
				return nil, err
			}
			value, found, err := resolver.ResolveString(ctx, args[0])
			if err != nil {
				return nil, err
			}
			if !found {
				return args[0], nil
			}
			return value, nil
		}),
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Return the actual secret value instead of a masked placeholder")
	return cmd
}

func newSecretsListCommand(e *env) *cobra.Command {
	var providerName, path string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List secret keys under a path for one configured provider",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: e.dispatcher.Dispatch("status", func(ctx context.Context, cc *dispatch.CommandContext) (any, error) {
			resolver, err := e.buildSecretResolver(ctx, secretstore.ResolveModeMask)
			if err != nil {
				return nil, err
			}
			name := providerName
			if name == "" {
				name = resolver.DefaultProvider()
			}
			provider, ok := resolver.Provider(name)
			if !ok {
				return nil, errs.New(errs.KindUsage, errs.CodeGeneric, fmt.Sprintf("secret provider %q is not configured", name))
			}
			lister, ok := provider.(secretstore.Lister)
			if !ok {
				return nil, errs.New(errs.KindUsage, errs.CodeGeneric, fmt.Sprintf("provider %q does not support listing", name))
			}
			return lister.List(ctx, path)
		}),
	}
	cmd.Flags().StringVar(&providerName, "secret-provider", "", "Provider to list under (defaults to secrets.defaultProvider)")
	cmd.Flags().StringVar(&path, "path", "", "Path prefix to list keys under")
	return cmd
}

// buildSecretResolver loads provider config from the persisted
// ConfigTree's "secrets" section and constructs a Resolver scoped to a
// single resolve call — the resolver's own audit trail doesn't need to
// outlive one CLI invocation.
func (e *env) buildSecretResolver(ctx context.Context, mode secretstore.ResolveMode) (*secretstore.Resolver, error) {
	cfg, err := secretstore.LoadConfigFromStore(ctx, e.configStore, "")
	if err != nil {
		return nil, err
	}
	return secretstore.NewResolver(cfg, secretstore.ResolverOptions{
		DefaultProvider: cfg.DefaultProvider,
		Mode:            mode,
		Mask:            "***",
		BaseDir:         e.stateDir,
	})
}
