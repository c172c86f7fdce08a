package main

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/example/masterclaw/internal/aiservice"
	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/containerexec"
	"github.com/example/masterclaw/internal/cost"
	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/events"
	"github.com/example/masterclaw/internal/heal"
	mcconfig "github.com/example/masterclaw/internal/config"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/metrics"
	"github.com/example/masterclaw/internal/ratelimit"
	"github.com/example/masterclaw/internal/resilience"
	"github.com/example/masterclaw/internal/secureclient"
	"github.com/example/masterclaw/internal/store"
	"github.com/example/masterclaw/internal/subprocess"
)

// env is the collection of long-lived services every subcommand handler
// needs. Built once in newRootCommand and closed over by each command
// file's handler, the same way the teacher threads shared flags/services
// into its newXCommand constructors.
type env struct {
	stateDir   string
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger
	auditLog   *audit.Log
	configStore *mcconfig.Store
	rateLimit  *ratelimit.Limiter
	circuits   *resilience.Registry
	costs      *cost.Tracker
	eventsStore *events.Store
	containers *containerexec.Executor
	healer     *heal.Orchestrator
	gateway    *aiservice.Client
	metrics    *metrics.Collector
}

func newRootCommand() (*cobra.Command, error) {
	home, err := homedir.Dir()
	if err != nil {
		home = os.TempDir()
	}
	stateDir := store.DefaultStateDir(home)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir %q: %w", stateDir, err)
	}

	logLevel := "info"
	if os.Getenv("MC_DEBUG") == "1" {
		logLevel = "debug"
	}
	logger, err := logging.New(logging.Options{Level: logLevel, Component: "masterclaw"})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	signingKey := []byte(os.Getenv("MC_AUDIT_KEY"))
	if len(signingKey) == 0 {
		// No operator-provided key: fall back to a fixed default key
		// built into the binary, so the chain is still internally
		// consistent. The default is the same on every installation,
		// so anyone holding the binary can re-sign records; log loudly
		// that MC_AUDIT_KEY is unset.
		signingKey = []byte("masterclaw-local-default-signing-key")
		logger.Warn("MC_AUDIT_KEY not set; using the built-in default signing key", nil)
	}
	auditLog := audit.Open(stateDir, signingKey, logger)

	e := &env{
		stateDir:    stateDir,
		logger:      logger,
		auditLog:    auditLog,
		configStore: mcconfig.New(stateDir, logger, auditLog),
		rateLimit:   ratelimit.New(stateDir, logger),
		circuits:    resilience.NewRegistry(stateDir, logger),
		costs:       cost.New(stateDir, logger),
		eventsStore: events.New(stateDir, logger),
		metrics:     metrics.New(),
	}

	runner := subprocess.DefaultRunner(os.Environ())
	e.containers = containerexec.New(nil, runner, auditLog)

	gatewayBaseURL := strings.TrimRight(os.Getenv("MC_GATEWAY_URL"), "/")
	httpClient := secureclient.New(logger)
	breaker := e.circuits.Get("gateway", resilience.DefaultBreakerConfig())
	e.gateway = aiservice.New(aiservice.Config{
		BaseURL:      gatewayBaseURL,
		GatewayToken: os.Getenv("GATEWAY_TOKEN"),
	}, httpClient, breaker)

	var healthCheckedServices []heal.ServiceEndpoint
	if gatewayBaseURL != "" {
		healthCheckedServices = append(healthCheckedServices, heal.ServiceEndpoint{
			Name: "gateway",
			URL:  gatewayBaseURL + "/health",
		})
	}
	e.healer = heal.New(heal.Options{
		Docker:            heal.NewDockerCLIInspector(os.Environ()),
		HTTPClient:        httpClient,
		Circuits:          e.circuits,
		Services:          healthCheckedServices,
		ConfigFiles:       stateFileExpectations(stateDir),
		Statvfs:           heal.StatvfsFree,
		FreeMemory:        heal.FreeMemory,
		StateDir:          stateDir,
		ProtectedPrefixes: loadProtectedPrefixes(stateDir, logger),
	})

	d := &dispatch.Dispatcher{
		Logger:    logger,
		Audit:     auditLog,
		RateLimit: e.rateLimit,
		Metrics:   e.metrics,
		Flush:     logging.NewFlushGuard(logger),
	}
	e.dispatcher = d

	root := &cobra.Command{
		Use:           "mc <command>",
		Short:         "MasterClaw: operations CLI for the AI-service stack",
		Long:          "mc is the operator's Swiss Army knife for the MasterClaw AI-service stack: config, health, heal, exec, and audit in one dispatcher.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: d.PersistentPreRunE,
	}
	root.PersistentFlags().Bool("json", false, "Force JSON output (also via MC_JSON_OUTPUT=1)")
	root.PersistentFlags().Bool("quiet", false, "Suppress non-essential human-mode output")
	root.PersistentFlags().Bool("force", false, "Bypass interactive confirmation for dangerous operations")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging (also via MC_DEBUG=1)")
	root.CompletionOptions.DisableDefaultCmd = false

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n\n", err)
		}
		return pflag.ErrHelp
	})

	root.AddCommand(
		newVersionCommand(),
		newConfigCommand(e),
		newStatusCommand(e),
		newHealthCommand(e),
		newHealCommand(e),
		newPruneCommand(e),
		newScanCommand(e),
		newExecCommand(e),
		newAuditCommand(e),
		newEventsCommand(e),
		newRateLimitCommand(e),
		newCircuitsCommand(e),
		newCostCommand(e),
		newSLOCommand(e),
		newSessionCommand(e),
		newMemoryCommand(e),
		newSearchCommand(e),
		newWorkflowCommand(e),
		newSecretsCommand(e),
		newBackupCommand(e),
		newRestoreCommand(e),
		newLogsCommand(e),
		newDeployCommand(e),
		newDashboardCommand(e),
		newTemplateCommand(e),
		newTroubleshootCommand(e),
	)

	return root, nil
}

func exitCodeFromExecute(err error) int {
	return dispatch.ExitCodeFromError(err)
}

// stateFileExpectations lists the §6 persisted state files under
// stateDir that scanConfig checks for permission drift, all owner-only
// per the persisted state layout.
func stateFileExpectations(stateDir string) []heal.ConfigFileExpectation {
	names := []string{"config.json", "rate-limits.json", "circuits.json", "audit.log", "events.json"}
	out := make([]heal.ConfigFileExpectation, 0, len(names))
	for _, name := range names {
		out = append(out, heal.ConfigFileExpectation{
			Path:         stateDir + "/" + name,
			ExpectedMode: 0o600,
		})
	}
	return out
}

func loadProtectedPrefixes(stateDir string, logger logging.Logger) []string {
	path := stateDir + "/protected-resources.yaml"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil // New() falls back to heal.DefaultProtectedPrefixes
	}
	extra, parseErr := parseProtectedResourcesYAML(raw)
	if parseErr != nil {
		logger.Warn("ignoring malformed protected-resources.yaml", map[string]any{"error": parseErr.Error()})
		return nil
	}
	// Open Question 3: operator overrides can only extend, never shrink
	// below the compiled defaults.
	merged := append([]string{}, heal.DefaultProtectedPrefixes...)
	merged = append(merged, extra...)
	return merged
}

type protectedResourcesFile struct {
	Prefixes []string `yaml:"prefixes"`
}

func parseProtectedResourcesYAML(raw []byte) ([]string, error) {
	var doc protectedResourcesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Prefixes, nil
}
