package secretstore

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/example/masterclaw/internal/config"
)

// ConfigFromTree maps the "secrets" section of a persisted ConfigTree
// (internal/config) into a secretstore Config. Replaces the teacher's
// ConfigFromApp, which read a typed appconfig.SecretsConfig produced by a
// Kubernetes-chart-specific config loader; this module has no chart path,
// so provider settings live in the ConfigTree's "secrets" key instead.
func ConfigFromTree(tree config.Tree) Config {
	section, ok := tree["secrets"].(map[string]any)
	if !ok {
		return Config{}
	}
	cfg := Config{}
	if dp, ok := section["defaultProvider"].(string); ok {
		cfg.DefaultProvider = dp
	}
	providersRaw, ok := section["providers"].(map[string]any)
	if !ok {
		return cfg
	}
	cfg.Providers = make(map[string]ProviderConfig, len(providersRaw))
	for name, raw := range providersRaw {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cfg.Providers[name] = providerConfigFromMap(m)
	}
	return cfg
}

func providerConfigFromMap(m map[string]any) ProviderConfig {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	intOf := func(key string) int {
		switch v := m[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		default:
			return 0
		}
	}
	return ProviderConfig{
		Type:                str("type"),
		Path:                str("path"),
		Address:             str("address"),
		Token:               str("token"),
		Namespace:           str("namespace"),
		Mount:               str("mount"),
		KVVersion:           intOf("kvVersion"),
		Key:                 str("key"),
		AuthMethod:          str("authMethod"),
		AuthMount:           str("authMount"),
		RoleID:              str("roleId"),
		SecretID:            str("secretId"),
		KubernetesRole:      str("kubernetesRole"),
		KubernetesToken:     str("kubernetesToken"),
		KubernetesTokenPath: str("kubernetesTokenPath"),
		AWSRole:             str("awsRole"),
		AWSRegion:           str("awsRegion"),
		AWSHeaderValue:      str("awsHeaderValue"),
	}
}

// LoadConfigFromStore loads secret provider config from an explicit
// config file path if given, otherwise from the persisted ConfigTree's
// "secrets" section. Replaces the teacher's LoadConfigFromApp, which
// discovered a repo root and loaded two fixed YAML files; this module
// has no repo-root concept, so the only two sources are an explicit
// operator-supplied file and the ConfigTree.
func LoadConfigFromStore(ctx context.Context, store *config.Store, explicitPath string) (Config, error) {
	if strings.TrimSpace(explicitPath) != "" {
		path := explicitPath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return LoadConfig(path)
	}
	tree, err := store.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	return ConfigFromTree(tree), nil
}
