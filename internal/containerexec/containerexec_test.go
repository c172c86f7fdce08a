package containerexec

import (
	"context"
	"testing"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/subprocess"
)

func TestExecRejectsNonWhitelistedContainer(t *testing.T) {
	e := New(nil, subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil), nil)
	_, err := e.Exec(context.Background(), Request{
		Container:     "evil-backend",
		CommandTokens: []string{"echo", "hi"},
	})
	requireKind(t, err, errs.KindSecurity)
}

func TestExecRejectsShellChainingBeforeSpawn(t *testing.T) {
	dir := t.TempDir()
	auditLog := audit.Open(dir, []byte("test-key"), nil)
	e := New(nil, subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil), auditLog)

	_, err := e.Exec(context.Background(), Request{
		Container:     "mc-backend",
		CommandTokens: []string{":(){", ":|:&", "};:"},
	})
	requireKind(t, err, errs.KindSecurity)

	records, listErr := auditLog.All()
	if listErr != nil {
		t.Fatalf("All: %v", listErr)
	}
	if len(records) != 1 || records[0].EventType != audit.EventSecurityViolation {
		t.Fatalf("expected one SECURITY_VIOLATION record, got %+v", records)
	}
	if rule, _ := records[0].Details["rule"].(string); rule != "SHELL_CHAINING" {
		t.Fatalf("expected rule SHELL_CHAINING, got %v", records[0].Details["rule"])
	}
}

func TestExecRejectsBlockedToken(t *testing.T) {
	e := New(nil, subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil), nil)
	_, err := e.Exec(context.Background(), Request{
		Container:     "mc-backend",
		CommandTokens: []string{"rm", "-rf", "/"},
	})
	requireKind(t, err, errs.KindSecurity)
}

func TestExecRejectsOversizedCommand(t *testing.T) {
	e := New(nil, subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil), nil)
	big := make([]string, 0, 5000)
	for i := 0; i < 5000; i++ {
		big = append(big, "x")
	}
	_, err := e.Exec(context.Background(), Request{
		Container:     "mc-backend",
		CommandTokens: big,
	})
	requireKind(t, err, errs.KindValidation)
}

func TestIsWhitelistedRespectsCustomPrefixes(t *testing.T) {
	e := New([]string{"svc-"}, subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil), nil)
	if e.isWhitelisted("mc-backend") {
		t.Fatalf("expected default prefix to not apply with custom whitelist")
	}
	if !e.isWhitelisted("svc-backend") {
		t.Fatalf("expected custom prefix to match")
	}
}

func TestClassifyResourceViolationKinds(t *testing.T) {
	for _, kind := range []string{"RESOURCE_LIMIT", "OOM", "CPU_LIMIT", "FILE_SIZE_LIMIT", "BLOCKED_SYSCALL"} {
		if !isResourceViolationKind(kind) {
			t.Fatalf("expected %q to be a resource violation kind", kind)
		}
	}
	if isResourceViolationKind("TERMINATED") {
		t.Fatalf("TERMINATED is not a resource violation kind")
	}
}

func requireKind(t *testing.T, err error, want errs.Kind) {
	t.Helper()
	mcErr, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if mcErr.Kind != want {
		t.Fatalf("expected kind %s, got %s", want, mcErr.Kind)
	}
}
