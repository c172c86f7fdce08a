// Package config implements the ConfigTree entity of §3: a nested
// mapping of string keys to scalar/nested values, persisted through L2
// (so prototype-pollution stripping and owner-only permissions apply
// uniformly) and layered with a YAML file and MC_-prefixed environment
// variables by LoadLayered; CLI flags are not part of that layering.
//
// Generalized from the teacher's internal/appconfig, which loads a
// typed BuildConfig from two fixed YAML paths (global + repo) and merges
// them field-by-field. That shape doesn't fit an open-ended ConfigTree,
// so the struct is replaced with a map[string]any tree manipulated via
// internal/safety.SafeDeepMerge; the load-two-sources-and-merge idiom
// (appconfig.Load/merge) is kept. There is no repo-root lookup.
package config

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/safety"
	"github.com/example/masterclaw/internal/store"
)

// Tree is a ConfigTree value: a nested mapping of string keys to
// scalar/nested values.
type Tree map[string]any

type fileState struct {
	Tree Tree `json:"tree"`
}

func validate(v any) error {
	_, ok := v.(map[string]any)
	if !ok {
		return errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "config state root must be an object")
	}
	return nil
}

// Store wraps the persisted ConfigTree file under $MC_STATE_DIR.
type Store struct {
	path  string
	log   logging.Logger
	audit *audit.Log
}

// New constructs a Store backed by $stateDir/config.json. auditLog may be
// nil if callers do not want security events recorded (tests).
func New(stateDir string, log logging.Logger, auditLog *audit.Log) *Store {
	return &Store{path: stateDir + "/config.json", log: log, audit: auditLog}
}

// Load reads the persisted tree. A missing file returns an empty Tree,
// never an error. Dangerous keys are already stripped by internal/store's
// Load; if any were present, a SECURITY_VIOLATION audit record is
// appended (§8 testable property 3, scenario E5).
func (s *Store) Load(ctx context.Context) (Tree, error) {
	raw, err := os.ReadFile(s.path)
	hadDangerousKeys := false
	if err == nil {
		hadDangerousKeys = containsDangerousKey(raw)
	}

	var state fileState
	if err := store.Load(s.path, &state, validate, s.log); err != nil {
		return nil, err
	}
	if state.Tree == nil {
		state.Tree = Tree{}
	}

	if hadDangerousKeys && s.audit != nil {
		_ = s.audit.Append(ctx, audit.Record{
			EventType:  audit.EventSecurityViolation,
			SubjectRef: "config",
			Details:    map[string]any{"reason": "dangerous key stripped on load"},
		})
	}
	return state.Tree, nil
}

// containsDangerousKey is a best-effort pre-check over the raw bytes so
// Load can decide whether to emit a security audit record; it does not
// replace internal/store's own structural stripping.
func containsDangerousKey(raw []byte) bool {
	s := string(raw)
	for _, k := range []string{`"__proto__"`, `"constructor"`, `"prototype"`} {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Save persists tree, stripping dangerous keys (defense in depth; Load
// already strips on the way back in, but Save never writes them either).
func (s *Store) Save(tree Tree) error {
	cleaned := safety.StripDangerousKeys(map[string]any(tree)).(map[string]any)
	return store.Save(s.path, fileState{Tree: cleaned}, s.log)
}

// Merge safely deep-merges patch into the currently persisted tree and
// saves the result, returning the merged tree.
func (s *Store) Merge(ctx context.Context, patch Tree) (Tree, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	merged := safety.SafeDeepMerge(map[string]any(current), map[string]any(patch))
	if err := s.Save(Tree(merged)); err != nil {
		return nil, err
	}
	return Tree(merged), nil
}

// LoadLayered builds a viper instance layering, from lowest to highest
// precedence: the persisted ConfigTree, a YAML file at yamlPath (if any),
// and MC_-prefixed environment variables — matching the teacher's
// cobra+pflag+viper combination, generalized from flag-only binding to
// include the persisted tree as the base layer.
func LoadLayered(ctx context.Context, s *Store, yamlPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("MC")
	v.AutomaticEnv()

	tree, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(tree); err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, errs.CodeIntegrityFailed, "merge persisted config", err)
	}

	if yamlPath != "" {
		if raw, err := os.ReadFile(yamlPath); err == nil {
			var fileTree map[string]any
			if err := yaml.Unmarshal(raw, &fileTree); err != nil {
				return nil, errs.Wrap(errs.KindValidation, errs.CodeUsage, "parse yaml config file", err)
			}
			if err := v.MergeConfigMap(safety.StripDangerousKeys(fileTree).(map[string]any)); err != nil {
				return nil, errs.Wrap(errs.KindIntegrity, errs.CodeIntegrityFailed, "merge yaml config", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "read yaml config file", err)
		}
	}

	return v, nil
}
