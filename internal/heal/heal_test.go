package heal

import (
	"context"
	"errors"
	"testing"

	"github.com/example/masterclaw/internal/resilience"
)

type fakeDocker struct {
	daemonUp    bool
	dangling    []PruneTarget
	exited      []PruneTarget
	volumes     []PruneTarget
	removed     []PruneTarget
	restarted   []string
	restartErrs map[string]error
}

func (f *fakeDocker) DaemonReachable(ctx context.Context) (bool, error) { return f.daemonUp, nil }
func (f *fakeDocker) DanglingImages(ctx context.Context) ([]PruneTarget, error) { return nil, nil }
func (f *fakeDocker) ExitedContainers(ctx context.Context) ([]PruneTarget, error) { return f.exited, nil }
func (f *fakeDocker) UnusedVolumes(ctx context.Context) ([]PruneTarget, error) { return f.volumes, nil }
func (f *fakeDocker) UnusedNetworks(ctx context.Context) ([]PruneTarget, error) { return nil, nil }
func (f *fakeDocker) RestartService(ctx context.Context, name string) error {
	if err := f.restartErrs[name]; err != nil {
		return err
	}
	f.restarted = append(f.restarted, name)
	return nil
}
func (f *fakeDocker) ReadinessCheck(ctx context.Context, name string) error { return nil }
func (f *fakeDocker) Remove(ctx context.Context, target PruneTarget) error {
	f.removed = append(f.removed, target)
	return nil
}

func TestScanArtifactsMarksProtected(t *testing.T) {
	docker := &fakeDocker{
		daemonUp: true,
		exited:   []PruneTarget{{Kind: "container", ID: "mc-core.bak-123"}},
		volumes:  []PruneTarget{{Kind: "volume", ID: "dangling"}, {Kind: "volume", ID: "mc-chroma-data"}},
	}
	o := New(Options{Docker: docker, ProtectedPrefixes: []string{"mc-core-", "mc-chroma-"}})

	issues, err := o.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	plan := o.Plan(issues)

	var sawProtected bool
	for _, i := range plan.Manual {
		if i.Category == CategoryArtifacts {
			sawProtected = true
		}
	}
	if !sawProtected {
		t.Fatalf("expected the protected volume to appear as manual (not fixable), got fixable=%+v manual=%+v", plan.Fixable, plan.Manual)
	}
	if len(plan.Fixable) != 2 {
		t.Fatalf("expected exactly 2 fixable artifact issues (exited container + dangling volume), got %d: %+v", len(plan.Fixable), plan.Fixable)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	docker := &fakeDocker{
		daemonUp: true,
		exited:   []PruneTarget{{Kind: "container", ID: "mc-core.bak-123"}},
		volumes:  []PruneTarget{{Kind: "volume", ID: "dangling"}, {Kind: "volume", ID: "mc-chroma-data"}},
	}
	o := New(Options{Docker: docker, ProtectedPrefixes: []string{"mc-core-", "mc-chroma-"}})

	issues, err := o.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	plan := o.Plan(issues)
	if _, err := o.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(docker.removed) != 2 {
		t.Fatalf("expected 2 artifacts removed, got %d: %+v", len(docker.removed), docker.removed)
	}

	// second scan against a docker view with the removed artifacts gone
	docker.exited = nil
	docker.volumes = []PruneTarget{{Kind: "volume", ID: "mc-chroma-data"}}
	issues2, err := o.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan (2nd): %v", err)
	}
	plan2 := o.Plan(issues2)
	if len(plan2.Fixable) != 0 {
		t.Fatalf("expected empty fixable list after apply converged, got %+v", plan2.Fixable)
	}
}

func TestApplyAggregatesIndependentStepFailures(t *testing.T) {
	docker := &fakeDocker{
		daemonUp:    true,
		restartErrs: map[string]error{"broken-svc": errors.New("connection refused")},
	}
	o := New(Options{Docker: docker})

	plan := Plan{Fixable: []Issue{
		{Category: CategoryServices, Fixable: true, Action: Action{Kind: ActionRestartService, ServiceName: "broken-svc"}},
		{Category: CategoryServices, Fixable: true, Action: Action{Kind: ActionRestartService, ServiceName: "healthy-svc"}},
	}}

	result, err := o.Apply(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected an aggregated error from the failed restart")
	}
	if len(result.RestartedServices) != 1 || result.RestartedServices[0] != "healthy-svc" {
		t.Fatalf("expected the independent healthy-svc restart to still succeed, got %+v", result.RestartedServices)
	}
	if len(docker.restarted) != 1 || docker.restarted[0] != "healthy-svc" {
		t.Fatalf("expected only healthy-svc to have actually restarted, got %+v", docker.restarted)
	}
}

func TestApplyAbortsOnProtectedPlanViolation(t *testing.T) {
	docker := &fakeDocker{daemonUp: true}
	o := New(Options{Docker: docker, ProtectedPrefixes: []string{"mc-core-"}})

	plan := Plan{Fixable: []Issue{{
		Category: CategoryArtifacts,
		Fixable:  true,
		Action:   Action{Kind: ActionPruneDockerArtifacts, ArtifactKind: "volume"},
		Detail:   "volume mc-core-data (0 bytes, protected=true)",
	}}}

	_, err := o.Apply(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected Apply to abort on a plan that names a protected artifact")
	}
}

func TestScanDockerUnreachable(t *testing.T) {
	docker := &fakeDocker{daemonUp: false}
	o := New(Options{Docker: docker})
	issues, err := o.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	found := false
	for _, i := range issues {
		if i.Category == CategoryDocker && i.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a critical docker issue, got %+v", issues)
	}
}

func TestScanCircuitsReportsOpenAsFixable(t *testing.T) {
	dir := t.TempDir()
	reg := resilience.NewRegistry(dir, nil)
	_ = reg.Call("sessions", resilience.BreakerConfig{FailureThreshold: 1, ResetTimeoutMillis: 10000, SuccessThreshold: 1}, func() error {
		return errors.New("boom")
	})

	o := New(Options{Circuits: reg, StateDir: dir})
	issues, err := o.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var found bool
	for _, i := range issues {
		if i.Category == CategoryCircuits && i.Action.Kind == ActionResetCircuit {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an open-circuit issue, got %+v", issues)
	}
}
