package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/cobra"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
)

func TestResolveCorrelationIDPrefersEnvThenHeaderThenGenerate(t *testing.T) {
	id, err := ResolveCorrelationID("from-env", "from-header")
	if err != nil || id != "from-env" {
		t.Fatalf("expected env to win, got %q err=%v", id, err)
	}

	id, err = ResolveCorrelationID("", "from-header")
	if err != nil || id != "from-header" {
		t.Fatalf("expected header to win, got %q err=%v", id, err)
	}

	id, err = ResolveCorrelationID("", "")
	if err != nil || id == "" {
		t.Fatalf("expected a generated id, got %q err=%v", id, err)
	}
}

func TestResolveCorrelationIDRejectsMalformed(t *testing.T) {
	if _, err := ResolveCorrelationID("has a space", ""); err == nil {
		t.Fatalf("expected malformed correlation id to be rejected")
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	logger, err := logging.New(logging.Options{Level: "error"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	outFile, err := os.CreateTemp(t.TempDir(), "stdout")
	if err != nil {
		t.Fatalf("create temp stdout: %v", err)
	}
	errFile, err := os.CreateTemp(t.TempDir(), "stderr")
	if err != nil {
		t.Fatalf("create temp stderr: %v", err)
	}
	d := &Dispatcher{
		Logger: logger,
		Flush:  logging.NewFlushGuard(logger),
		Stdout: outFile,
		Stderr: errFile,
	}
	return d, nil, nil
}

func buildCommand(d *Dispatcher, category string, handler HandlerFunc) *cobra.Command {
	root := &cobra.Command{Use: "root", SilenceUsage: true, SilenceErrors: true}
	root.PersistentPreRunE = d.PersistentPreRunE
	child := &cobra.Command{Use: "child", RunE: d.Dispatch(category, handler)}
	root.AddCommand(child)
	root.SetArgs([]string{"child"})
	return root
}

func TestDispatchRendersSuccessAndFlushesLogger(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	flushed := false
	d.Flush = &flushRecorder{inner: d.Flush, onFlush: func() { flushed = true }}

	cmd := buildCommand(d, "status", func(ctx context.Context, cc *CommandContext) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !flushed {
		t.Fatalf("expected the logger flush guard to run")
	}
}

func TestDispatchMapsValidationErrorToExitCode3(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	cmd := buildCommand(d, "status", func(ctx context.Context, cc *CommandContext) (any, error) {
		return nil, errs.New(errs.KindValidation, errs.CodeUsage, "bad input")
	})
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got := ExitCodeFromError(err); got != int(errs.ExitValidation) {
		t.Fatalf("expected exit code %d, got %d", errs.ExitValidation, got)
	}
}

func TestDispatchRecoversFromPanicAndStillFlushes(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	flushed := false
	d.Flush = &flushRecorder{inner: d.Flush, onFlush: func() { flushed = true }}

	cmd := buildCommand(d, "status", func(ctx context.Context, cc *CommandContext) (any, error) {
		panic("boom")
	})
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatalf("expected the panic to surface as an error")
	}
	if !flushed {
		t.Fatalf("expected the logger flush guard to run even after a panic")
	}
	if got := ExitCodeFromError(err); got != int(errs.ExitGeneric) {
		t.Fatalf("expected exit code %d, got %d", errs.ExitGeneric, got)
	}
}

func TestRenderErrorJSONEnvelopeShape(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	out, err := os.CreateTemp(t.TempDir(), "json-stdout")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	d.Stdout = out
	d.JSONOutput = true

	cmd := buildCommand(d, "status", func(ctx context.Context, cc *CommandContext) (any, error) {
		return nil, errs.New(errs.KindBudget, errs.CodeBudgetExceeded, "too much spend")
	})
	_ = cmd.ExecuteContext(context.Background())

	if _, err := out.Seek(0, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	var env jsonErrorEnvelope
	if err := json.NewDecoder(out).Decode(&env); err != nil {
		t.Fatalf("decode json envelope: %v", err)
	}
	if env.ExitCode != int(errs.ExitBudget) || env.CorrelationID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

// flushRecorder lets tests observe that Flush ran without depending on
// logging.FlushGuard's internal state.
type flushRecorder struct {
	inner   *logging.FlushGuard
	onFlush func()
}

func (f *flushRecorder) Flush() {
	f.onFlush()
	f.inner.Flush()
}
