// Package heal implements the §4.11 self-heal/prune orchestrator: a
// scan phase that runs independent category checks concurrently, a pure
// planning phase that separates fixable from manual issues, and an apply
// phase that executes fixable actions in a fixed order, honoring a
// protected-resource prefix list.
//
// Grounded structurally on the teacher's plan/apply split in
// internal/deploy (GeneratePlanPreview renders a dry-run plan before
// anything executes) and internal/stack's errgroup-fanned-out resource
// application in internal/snapshot/snapshot.go; the category scan here
// fans out the same way, one goroutine per independent check.
package heal

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/resilience"
	"github.com/example/masterclaw/internal/secureclient"
	"github.com/example/masterclaw/internal/subprocess"
)

// Category is one of the §3 Issue categories.
type Category string

const (
	CategoryDocker    Category = "docker"
	CategoryServices  Category = "services"
	CategoryDisk      Category = "disk"
	CategoryMemory    Category = "memory"
	CategoryConfig    Category = "config"
	CategoryCircuits  Category = "circuits"
	CategoryArtifacts Category = "artifacts"
)

// Severity is the Issue's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ActionKind is one arm of the Issue.action sum type.
type ActionKind string

const (
	ActionRestartService        ActionKind = "RestartService"
	ActionFixPermission          ActionKind = "FixPermission"
	ActionResetCircuit           ActionKind = "ResetCircuit"
	ActionPruneDockerArtifacts   ActionKind = "PruneDockerArtifacts"
	ActionNone                   ActionKind = "None"
)

// Action carries the parameters for whichever ActionKind it names; only
// the fields relevant to Kind are populated.
type Action struct {
	Kind            ActionKind
	ServiceName     string
	Path            string
	Mode            os.FileMode
	CircuitName     string
	ArtifactKind    string // image|container|volume|network|cache
}

// Issue is one finding from a scan.
type Issue struct {
	Category Category
	Severity Severity
	Fixable  bool
	Action   Action
	Detail   string
}

// PruneTarget is one candidate docker artifact considered for pruning.
type PruneTarget struct {
	Kind       string
	ID         string
	SizeBytes  int64
	Protected  bool
}

const (
	diskCriticalFreeBytes   = 1 << 30        // 1 GiB
	diskWarningFreeBytes    = 5 * (1 << 30)  // 5 GiB
	memoryCriticalFreeBytes = 512 << 20       // 512 MiB
	memoryWarningFreeBytes  = 2 * (1 << 30)  // 2 GiB
)

// DefaultProtectedPrefixes is the default protected-resource prefix set;
// operators may extend it via a protected-resources.yaml override.
var DefaultProtectedPrefixes = []string{"mc-core-", "mc-system-"}

// ServiceEndpoint is one well-known service health-checked during scan.
type ServiceEndpoint struct {
	Name string
	URL  string
}

// ConfigFileExpectation is one config file whose permission bits are
// checked during scan.
type ConfigFileExpectation struct {
	Path        string
	ExpectedMode os.FileMode
}

// DockerInspector abstracts the docker-artifact enumeration so scans can
// be tested without a live daemon; the production implementation shells
// out via L6/L10.
type DockerInspector interface {
	DaemonReachable(ctx context.Context) (bool, error)
	DanglingImages(ctx context.Context) ([]PruneTarget, error)
	ExitedContainers(ctx context.Context) ([]PruneTarget, error)
	UnusedVolumes(ctx context.Context) ([]PruneTarget, error)
	UnusedNetworks(ctx context.Context) ([]PruneTarget, error)
	RestartService(ctx context.Context, name string) error
	ReadinessCheck(ctx context.Context, name string) error
	Remove(ctx context.Context, target PruneTarget) error
}

// Orchestrator runs scan/plan/apply.
type Orchestrator struct {
	docker             DockerInspector
	httpClient         *secureclient.Client
	circuits           *resilience.Registry
	services           []ServiceEndpoint
	configFiles        []ConfigFileExpectation
	protectedPrefixes  []string
	statvfs            func(path string) (freeBytes int64, err error)
	freeMemory         func() (freeBytes int64, err error)
	stateDir           string
}

// Options configures an Orchestrator.
type Options struct {
	Docker            DockerInspector
	HTTPClient        *secureclient.Client
	Circuits          *resilience.Registry
	Services          []ServiceEndpoint
	ConfigFiles       []ConfigFileExpectation
	ProtectedPrefixes []string
	Statvfs           func(path string) (freeBytes int64, err error)
	FreeMemory        func() (freeBytes int64, err error)
	// StateDir is $MC_STATE_DIR, used to read the persisted circuit
	// snapshot written by resilience.Registry.
	StateDir string
}

// New builds an Orchestrator from opts, falling back to
// DefaultProtectedPrefixes when ProtectedPrefixes is nil.
func New(opts Options) *Orchestrator {
	prefixes := opts.ProtectedPrefixes
	if prefixes == nil {
		prefixes = DefaultProtectedPrefixes
	}
	return &Orchestrator{
		docker:            opts.Docker,
		httpClient:        opts.HTTPClient,
		circuits:          opts.Circuits,
		services:          opts.Services,
		configFiles:       opts.ConfigFiles,
		protectedPrefixes: prefixes,
		statvfs:           opts.Statvfs,
		freeMemory:        opts.FreeMemory,
		stateDir:          opts.StateDir,
	}
}

func (o *Orchestrator) isProtected(id string) bool {
	for _, prefix := range o.protectedPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// Scan runs every category check concurrently and returns the combined,
// category-ordered issue list. A failing individual check does not abort
// the others; it surfaces as a single "manual" issue in its category.
func (o *Orchestrator) Scan(ctx context.Context) ([]Issue, error) {
	results := make([][]Issue, 7)
	g, gctx := errgroup.WithContext(ctx)

	checks := []struct {
		idx int
		fn  func(context.Context) ([]Issue, error)
	}{
		{0, o.scanDocker},
		{1, o.scanServices},
		{2, o.scanDisk},
		{3, o.scanMemory},
		{4, o.scanConfig},
		{5, o.scanCircuits},
		{6, o.scanArtifacts},
	}
	for _, c := range checks {
		c := c
		g.Go(func() error {
			issues, err := c.fn(gctx)
			if err != nil {
				results[c.idx] = []Issue{{
					Category: categoryForIndex(c.idx),
					Severity: SeverityMedium,
					Fixable:  false,
					Action:   Action{Kind: ActionNone},
					Detail:   fmt.Sprintf("scan check failed: %v", err),
				}}
				return nil
			}
			results[c.idx] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "heal scan failed", err)
	}

	var all []Issue
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func categoryForIndex(idx int) Category {
	switch idx {
	case 0:
		return CategoryDocker
	case 1:
		return CategoryServices
	case 2:
		return CategoryDisk
	case 3:
		return CategoryMemory
	case 4:
		return CategoryConfig
	case 5:
		return CategoryCircuits
	default:
		return CategoryArtifacts
	}
}

func (o *Orchestrator) scanDocker(ctx context.Context) ([]Issue, error) {
	if o.docker == nil {
		return nil, nil
	}
	ok, err := o.docker.DaemonReachable(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Issue{{
			Category: CategoryDocker,
			Severity: SeverityCritical,
			Fixable:  false,
			Action:   Action{Kind: ActionNone},
			Detail:   "docker daemon unreachable",
		}}, nil
	}
	return nil, nil
}

func (o *Orchestrator) scanServices(ctx context.Context) ([]Issue, error) {
	if o.httpClient == nil {
		return nil, nil
	}
	var issues []Issue
	for _, svc := range o.services {
		resp, err := o.httpClient.Request(ctx, secureclient.Descriptor{
			Method:           "GET",
			URL:              svc.URL,
			TimeoutMillis:    5000,
			MaxResponseBytes: 1 << 16,
			AllowPrivateIPs:  true,
		})
		if err != nil || resp.StatusCode >= 500 {
			issues = append(issues, Issue{
				Category: CategoryServices,
				Severity: SeverityHigh,
				Fixable:  true,
				Action:   Action{Kind: ActionRestartService, ServiceName: svc.Name},
				Detail:   fmt.Sprintf("%s failed health check", svc.Name),
			})
		}
	}
	return issues, nil
}

func (o *Orchestrator) scanDisk(ctx context.Context) ([]Issue, error) {
	if o.statvfs == nil {
		return nil, nil
	}
	free, err := o.statvfs("/")
	if err != nil {
		return nil, err
	}
	switch {
	case free <= diskCriticalFreeBytes:
		return []Issue{{Category: CategoryDisk, Severity: SeverityCritical, Fixable: false, Action: Action{Kind: ActionNone}, Detail: "disk free space critically low"}}, nil
	case free <= diskWarningFreeBytes:
		return []Issue{{Category: CategoryDisk, Severity: SeverityMedium, Fixable: false, Action: Action{Kind: ActionNone}, Detail: "disk free space low"}}, nil
	}
	return nil, nil
}

func (o *Orchestrator) scanMemory(ctx context.Context) ([]Issue, error) {
	if o.freeMemory == nil {
		return nil, nil
	}
	free, err := o.freeMemory()
	if err != nil {
		return nil, err
	}
	switch {
	case free <= memoryCriticalFreeBytes:
		return []Issue{{Category: CategoryMemory, Severity: SeverityCritical, Fixable: false, Action: Action{Kind: ActionNone}, Detail: "memory critically low"}}, nil
	case free <= memoryWarningFreeBytes:
		return []Issue{{Category: CategoryMemory, Severity: SeverityMedium, Fixable: false, Action: Action{Kind: ActionNone}, Detail: "memory low"}}, nil
	}
	return nil, nil
}

func (o *Orchestrator) scanConfig(ctx context.Context) ([]Issue, error) {
	var issues []Issue
	for _, f := range o.configFiles {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue // absent config file is not this scan's concern
		}
		if info.Mode().Perm() != f.ExpectedMode.Perm() {
			issues = append(issues, Issue{
				Category: CategoryConfig,
				Severity: SeverityHigh,
				Fixable:  true,
				Action:   Action{Kind: ActionFixPermission, Path: f.Path, Mode: f.ExpectedMode},
				Detail:   fmt.Sprintf("%s has mode %s, expected %s", f.Path, info.Mode().Perm(), f.ExpectedMode.Perm()),
			})
		}
	}
	return issues, nil
}

func (o *Orchestrator) scanCircuits(ctx context.Context) ([]Issue, error) {
	if o.circuits == nil {
		return nil, nil
	}
	snaps, err := resilience.Snapshots(o.stateDir, nil)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for name, snap := range snaps {
		if snap.State == "open" {
			issues = append(issues, Issue{
				Category: CategoryCircuits,
				Severity: SeverityMedium,
				Fixable:  true,
				Action:   Action{Kind: ActionResetCircuit, CircuitName: name},
				Detail:   fmt.Sprintf("circuit %s is open", name),
			})
		}
	}
	return issues, nil
}

func (o *Orchestrator) scanArtifacts(ctx context.Context) ([]Issue, error) {
	if o.docker == nil {
		return nil, nil
	}
	var issues []Issue
	collect := func(kind string, targets []PruneTarget, err error) error {
		if err != nil {
			return err
		}
		for _, t := range targets {
			t.Protected = o.isProtected(t.ID)
			issues = append(issues, Issue{
				Category: CategoryArtifacts,
				Severity: SeverityLow,
				Fixable:  !t.Protected,
				Action:   Action{Kind: ActionPruneDockerArtifacts, ArtifactKind: kind},
				Detail:   fmt.Sprintf("%s %s (%d bytes, protected=%v)", kind, t.ID, t.SizeBytes, t.Protected),
			})
		}
		return nil
	}
	images, err := o.docker.DanglingImages(ctx)
	if err := collect("image", images, err); err != nil {
		return nil, err
	}
	containers, err := o.docker.ExitedContainers(ctx)
	if err := collect("container", containers, err); err != nil {
		return nil, err
	}
	volumes, err := o.docker.UnusedVolumes(ctx)
	if err := collect("volume", volumes, err); err != nil {
		return nil, err
	}
	networks, err := o.docker.UnusedNetworks(ctx)
	if err := collect("network", networks, err); err != nil {
		return nil, err
	}
	return issues, nil
}

// Plan is the dry-run rendering of a scan: fixable issues separated from
// those requiring manual operator action.
type Plan struct {
	Fixable []Issue
	Manual  []Issue
}

// Plan renders issues into a Plan without mutating anything.
func (o *Orchestrator) Plan(issues []Issue) Plan {
	var plan Plan
	for _, issue := range issues {
		if issue.Fixable {
			plan.Fixable = append(plan.Fixable, issue)
		} else {
			plan.Manual = append(plan.Manual, issue)
		}
	}
	return plan
}

// ApplyResult summarizes what Apply did.
type ApplyResult struct {
	RestartedServices []string
	FixedPermissions  []string
	ResetCircuits     []string
	PrunedArtifacts   []PruneTarget
}

// Apply executes plan.Fixable in the fixed §4.11 order: restart
// services, fix permissions, reset circuits, prune unprotected
// artifacts. A plan entry naming a protected artifact is a program bug —
// the spec treats this as an invariant violation, so Apply aborts rather
// than silently skip it.
// Apply executes plan.Fixable in a fixed order: non-artifact fixes
// first, then artifact pruning in a second pass. Failures among
// independent steps (a service restart, a permission fix, a circuit
// reset) do not abort the whole apply — each is attempted and its error,
// if any, is aggregated via multierr so one flaky step doesn't prevent
// the rest from running; the caller gets both the partial ApplyResult
// and every error that occurred. A protected-artifact violation is not
// aggregated: it aborts the prune pass immediately, since it signals the
// plan itself violated an invariant rather than a step merely failing.
func (o *Orchestrator) Apply(ctx context.Context, plan Plan) (*ApplyResult, error) {
	result := &ApplyResult{}
	var stepErrs error

	for _, issue := range plan.Fixable {
		if issue.Action.Kind == ActionPruneDockerArtifacts {
			continue // handled in the prune pass below, after everything else
		}
		switch issue.Action.Kind {
		case ActionRestartService:
			if err := o.docker.RestartService(ctx, issue.Action.ServiceName); err != nil {
				stepErrs = multierr.Append(stepErrs, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "restart service "+issue.Action.ServiceName, err))
				continue
			}
			if err := o.docker.ReadinessCheck(ctx, issue.Action.ServiceName); err != nil {
				stepErrs = multierr.Append(stepErrs, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "readiness check after restart "+issue.Action.ServiceName, err))
				continue
			}
			result.RestartedServices = append(result.RestartedServices, issue.Action.ServiceName)
		case ActionFixPermission:
			if err := os.Chmod(issue.Action.Path, issue.Action.Mode); err != nil {
				stepErrs = multierr.Append(stepErrs, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "fix permission "+issue.Action.Path, err))
				continue
			}
			result.FixedPermissions = append(result.FixedPermissions, issue.Action.Path)
		case ActionResetCircuit:
			if o.circuits != nil {
				o.circuits.Reset(issue.Action.CircuitName)
			}
			result.ResetCircuits = append(result.ResetCircuits, issue.Action.CircuitName)
		}
	}

	for _, issue := range plan.Fixable {
		if issue.Action.Kind != ActionPruneDockerArtifacts {
			continue
		}
		target := targetFromDetail(issue)
		if o.isProtected(target.ID) {
			return result, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed,
				fmt.Sprintf("refusing to prune protected artifact %q: plan violated the protected-resource invariant", target.ID))
		}
		if err := o.docker.Remove(ctx, target); err != nil {
			stepErrs = multierr.Append(stepErrs, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "prune artifact "+target.ID, err))
			continue
		}
		result.PrunedArtifacts = append(result.PrunedArtifacts, target)
	}

	return result, stepErrs
}

func targetFromDetail(issue Issue) PruneTarget {
	// Detail carries "<kind> <id> (<size> bytes, protected=<bool>)"; Issue
	// intentionally does not embed a full PruneTarget to keep the sum type
	// small, so Apply re-derives the identifying fields it needs.
	fields := strings.Fields(issue.Detail)
	target := PruneTarget{Kind: issue.Action.ArtifactKind}
	if len(fields) >= 2 {
		target.ID = fields[1]
	}
	return target
}

// DockerCLIInspector implements DockerInspector over L6, shelling out to
// the docker CLI the same way containerexec (L10) does, for production
// use. RestartService/ReadinessCheck/Remove operate on the service's
// compose-managed container name directly.
type DockerCLIInspector struct {
	runner *subprocess.Runner
}

// NewDockerCLIInspector builds a DockerCLIInspector restricted to the
// docker binary.
func NewDockerCLIInspector(baseEnv []string) *DockerCLIInspector {
	return &DockerCLIInspector{runner: subprocess.NewRunner(map[string]struct{}{"docker": {}}, baseEnv)}
}

func (d *DockerCLIInspector) run(ctx context.Context, args ...string) (*subprocess.ProcessResult, error) {
	return d.runner.Run(ctx, subprocess.Descriptor{Program: "docker", Args: args, TimeoutMillis: 10000})
}

func (d *DockerCLIInspector) DaemonReachable(ctx context.Context) (bool, error) {
	res, err := d.run(ctx, "info")
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (d *DockerCLIInspector) DanglingImages(ctx context.Context) ([]PruneTarget, error) {
	return d.list(ctx, "image", []string{"images", "--filter", "dangling=true", "--format", "{{.ID}}\t{{.Size}}"})
}

func (d *DockerCLIInspector) ExitedContainers(ctx context.Context) ([]PruneTarget, error) {
	return d.list(ctx, "container", []string{"ps", "-a", "--filter", "status=exited", "--format", "{{.Names}}\t0"})
}

func (d *DockerCLIInspector) UnusedVolumes(ctx context.Context) ([]PruneTarget, error) {
	return d.list(ctx, "volume", []string{"volume", "ls", "--filter", "dangling=true", "--format", "{{.Name}}\t0"})
}

func (d *DockerCLIInspector) UnusedNetworks(ctx context.Context) ([]PruneTarget, error) {
	return d.list(ctx, "network", []string{"network", "ls", "--filter", "dangling=true", "--format", "{{.Name}}\t0"})
}

func (d *DockerCLIInspector) list(ctx context.Context, kind string, args []string) ([]PruneTarget, error) {
	res, err := d.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var targets []PruneTarget
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		id := fields[0]
		var size int64
		if len(fields) > 1 {
			size, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		targets = append(targets, PruneTarget{Kind: kind, ID: id, SizeBytes: size})
	}
	return targets, nil
}

func (d *DockerCLIInspector) RestartService(ctx context.Context, name string) error {
	res, err := d.run(ctx, "restart", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.New(errs.KindDependency, errs.CodeGeneric, fmt.Sprintf("docker restart %s exited %d: %s", name, res.ExitCode, res.Stderr))
	}
	return nil
}

func (d *DockerCLIInspector) ReadinessCheck(ctx context.Context, name string) error {
	res, err := d.run(ctx, "inspect", "--format", "{{.State.Running}}", name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Stdout) != "true" {
		return errs.New(errs.KindDependency, errs.CodeGeneric, fmt.Sprintf("%s is not running after restart", name))
	}
	return nil
}

func (d *DockerCLIInspector) Remove(ctx context.Context, target PruneTarget) error {
	var args []string
	switch target.Kind {
	case "image":
		args = []string{"rmi", target.ID}
	case "container":
		args = []string{"rm", target.ID}
	case "volume":
		args = []string{"volume", "rm", target.ID}
	case "network":
		args = []string{"network", "rm", target.ID}
	default:
		return errs.New(errs.KindValidation, errs.CodeUsage, fmt.Sprintf("unknown artifact kind %q", target.Kind))
	}
	res, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.New(errs.KindDependency, errs.CodeGeneric, fmt.Sprintf("docker %s exited %d: %s", strings.Join(args, " "), res.ExitCode, res.Stderr))
	}
	return nil
}
