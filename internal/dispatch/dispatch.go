// Package dispatch implements the §4.9 command dispatcher: the single
// entry point every `cmd/masterclaw` subcommand routes through. It
// resolves the correlation ID, builds the CommandContext, checks L8
// admission, invokes the handler, maps the outcome to an exit code and
// rendered output, and guarantees the logger is flushed on every exit
// path.
//
// Grounded on the teacher's cmd/ktl/main.go root-command wiring
// (signal-aware ExecuteContext, a single handleError at the top), but
// where the teacher repeats context/log setup informally per command,
// this package centralizes it into PersistentPreRunE plus a Dispatch
// wrapper so individual cmd/masterclaw files stay thin.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/metrics"
	"github.com/example/masterclaw/internal/ratelimit"
	"github.com/example/masterclaw/internal/safety"
)

// CorrelationEnvVar is the environment variable inherited correlation
// IDs are read from, per §4.3.
const CorrelationEnvVar = "MC_CORRELATION_ID"

// CorrelationHeader is the HTTP header name L5/L12 prepend and that an
// inbound wrapper process may set to propagate a correlation ID.
const CorrelationHeader = "x-correlation-id"

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ResolveCorrelationID implements §4.9 step 2: env, then header, then
// mint a fresh one. A present-but-malformed value is a validation error
// rather than being silently discarded, since a caller that set it
// almost certainly intended it to propagate.
func ResolveCorrelationID(envValue, headerValue string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		if !correlationIDPattern.MatchString(v) {
			return "", errs.New(errs.KindValidation, errs.CodeUsage,
				fmt.Sprintf("%s does not match ^[A-Za-z0-9_-]{1,64}$", CorrelationEnvVar))
		}
		return v, nil
	}
	if v := strings.TrimSpace(headerValue); v != "" {
		if !correlationIDPattern.MatchString(v) {
			return "", errs.New(errs.KindValidation, errs.CodeUsage,
				fmt.Sprintf("%s header does not match ^[A-Za-z0-9_-]{1,64}$", CorrelationHeader))
		}
		return v, nil
	}
	return uuid.NewString(), nil
}

// UserIdentity returns a stable hash of the OS user plus hostname — never
// the raw username, so logs and audit records never carry a directly
// identifying value.
func UserIdentity() string {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, _ := os.Hostname()
	sum := sha256.Sum256([]byte(name + "@" + host))
	return hex.EncodeToString(sum[:])[:16]
}

// OutputMode is §4.9's outputMode.
type OutputMode string

const (
	OutputHuman OutputMode = "human"
	OutputJSON  OutputMode = "json"
)

// CommandContext is §3's CommandContext entity.
type CommandContext struct {
	CorrelationID string
	UserIdentity  string
	StartedAt     time.Time
	CommandPath   []string
	Flags         map[string]any
	OutputMode    OutputMode
	DebugEnabled  bool
	Logger        logging.Logger
}

// DeriveChildID mints a "parent:suffix" correlation ID for a
// sub-operation, per §3's CorrelationID note on child IDs.
func (c *CommandContext) DeriveChildID(suffix string) string {
	return c.CorrelationID + ":" + suffix
}

type ctxKey int

const commandContextKey ctxKey = 0

// WithCommandContext attaches cc to ctx so components several calls deep
// (L10/L11/L12) can recover the correlation ID without it being threaded
// through every function signature.
func WithCommandContext(ctx context.Context, cc *CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey, cc)
}

// FromContext retrieves the CommandContext stored by WithCommandContext.
func FromContext(ctx context.Context) (*CommandContext, bool) {
	cc, ok := ctx.Value(commandContextKey).(*CommandContext)
	return cc, ok
}

// HandlerFunc is the business logic every subcommand implements. The
// returned value is rendered as JSON in JSON mode, or type-switched by
// the caller's human-mode renderer; err, if any, is expected to be an
// *errs.Error (anything else is treated as KindGeneric).
type HandlerFunc func(ctx context.Context, cc *CommandContext) (any, error)

// Flusher is satisfied by *logging.FlushGuard; the interface exists so
// tests can substitute a recorder without reaching into the guard's
// internals.
type Flusher interface {
	Flush()
}

// Dispatcher owns the process-wide logger, audit log, and rate limiter,
// and wires correlation/log/audit bookkeeping into every subcommand's
// RunE via Dispatch so individual commands never repeat that plumbing.
type Dispatcher struct {
	Logger     logging.Logger
	Audit      *audit.Log
	RateLimit  *ratelimit.Limiter
	Metrics    *metrics.Collector
	Flush      Flusher
	JSONOutput bool
	Debug      bool

	// Stdout/Stderr default to os.Stdout/os.Stderr; overridable for tests.
	Stdout, Stderr *os.File
}

func (d *Dispatcher) stdout() *os.File {
	if d.Stdout != nil {
		return d.Stdout
	}
	return os.Stdout
}

func (d *Dispatcher) stderr() *os.File {
	if d.Stderr != nil {
		return d.Stderr
	}
	return os.Stderr
}

// PersistentPreRunE resolves the correlation ID, builds the
// CommandContext, and stashes it on the command's context. Wired onto
// the root command so every subcommand inherits it without repeating
// the setup (§4.9 steps 1-3).
func (d *Dispatcher) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	correlationID, err := ResolveCorrelationID(os.Getenv(CorrelationEnvVar), os.Getenv("MC_CORRELATION_ID_HEADER"))
	if err != nil {
		return err
	}

	outputMode := OutputHuman
	if d.JSONOutput || os.Getenv("MC_JSON_OUTPUT") == "1" {
		outputMode = OutputJSON
	}
	if v, _ := cmd.Flags().GetBool("json"); v {
		outputMode = OutputJSON
	}

	flags := map[string]any{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		flags[f.Name] = f.Value.String()
	})

	cc := &CommandContext{
		CorrelationID: correlationID,
		UserIdentity:  UserIdentity(),
		StartedAt:     time.Now(),
		CommandPath:   strings.Fields(cmd.CommandPath()),
		Flags:         flags,
		OutputMode:    outputMode,
		DebugEnabled:  d.Debug || os.Getenv("MC_DEBUG") == "1",
		Logger:        d.Logger.WithCorrelationID(correlationID).WithComponent(cmd.Name()),
	}
	cmd.SetContext(WithCommandContext(cmd.Context(), cc))
	return nil
}

// exitError carries a resolved exit code through cobra's error-return
// path without cobra printing its own representation of it (the root
// command sets SilenceErrors, matching the teacher).
type exitError struct{ code errs.ExitCode }

func (e *exitError) Error() string { return "" }

// ExitCodeFromError extracts the exit code Dispatch already rendered
// for, or classifies a raw error that bypassed Dispatch entirely (flag
// parsing failures, context cancellation at the cobra layer).
func ExitCodeFromError(err error) int {
	if err == nil {
		return int(errs.ExitOK)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return int(ee.code)
	}
	if errors.Is(err, context.Canceled) {
		return int(errs.ExitCancelled)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return int(errs.ExitOK)
	}
	return int(errs.ExitUsage)
}

// ArgsHandlerFunc is HandlerFunc plus the command's positional argv,
// for subcommands whose behavior depends on arguments (e.g. `config set
// <key> <value>`).
type ArgsHandlerFunc func(ctx context.Context, cc *CommandContext, args []string) (any, error)

// Dispatch wraps handler as a cobra RunE: applies the L8 admission
// check for category, invokes handler with a panic barrier, renders the
// outcome, and returns an exitError carrying the §6 exit code. The
// logger is flushed before returning on every path via d.Flush.
func (d *Dispatcher) Dispatch(category string, handler HandlerFunc) func(cmd *cobra.Command, args []string) error {
	return d.DispatchArgs(category, func(ctx context.Context, cc *CommandContext, _ []string) (any, error) {
		return handler(ctx, cc)
	})
}

// DispatchArgs is Dispatch for handlers that need the command's
// positional arguments.
func (d *Dispatcher) DispatchArgs(category string, handler ArgsHandlerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc, ok := FromContext(cmd.Context())
		if !ok {
			return errs.New(errs.KindGeneric, errs.CodeGeneric, "dispatcher context missing: PersistentPreRunE did not run")
		}
		defer d.Flush.Flush()

		result, err := d.invoke(cmd.Context(), cc, category, func(ctx context.Context, cc *CommandContext) (any, error) {
			return handler(ctx, cc, args)
		})
		if err != nil {
			d.renderError(cc, err)
			return &exitError{code: exitCodeFor(err)}
		}
		d.renderResult(cc, result)
		return nil
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cc *CommandContext, category string, handler HandlerFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if cc.Logger != nil {
				cc.Logger.Error("handler panicked", nil, map[string]any{"panic": fmt.Sprintf("%v", r)})
			}
			err = errs.New(errs.KindGeneric, errs.CodeGeneric, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if d.RateLimit != nil {
		rlResult, rlErr := d.RateLimit.Check(ctx, cc.UserIdentity, category)
		if rlErr != nil {
			if d.Metrics != nil {
				d.Metrics.RecordRateLimitDenial(category)
			}
			if d.Audit != nil {
				_ = d.Audit.Append(ctx, audit.Record{
					Timestamp:     time.Now(),
					CorrelationID: cc.CorrelationID,
					UserIdentity:  cc.UserIdentity,
					EventType:     audit.EventRateLimitDenied,
					SubjectRef:    category,
					Details:       map[string]any{"retryAfterMs": rlResult.RetryAfterMs},
				})
			}
			return nil, rlErr
		}
	}
	return handler(ctx, cc)
}

func exitCodeFor(err error) errs.ExitCode {
	var mcErr *errs.Error
	if errors.As(err, &mcErr) {
		return errs.ToExitCode(mcErr)
	}
	if errors.Is(err, context.Canceled) {
		return errs.ExitCancelled
	}
	return errs.ExitGeneric
}

// jsonErrorEnvelope is the §4.9 JSON-mode error shape.
type jsonErrorEnvelope struct {
	Timestamp     time.Time      `json:"ts"`
	Category      string         `json:"category"`
	ExitCode      int            `json:"exitCode"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationID"`
	Details       map[string]any `json:"details,omitempty"`
}

func (d *Dispatcher) renderError(cc *CommandContext, err error) {
	var mcErr *errs.Error
	if !errors.As(err, &mcErr) {
		mcErr = errs.Wrap(errs.KindGeneric, errs.CodeGeneric, err.Error(), err)
	}
	code := errs.ToExitCode(mcErr)

	if cc.OutputMode == OutputJSON {
		var details map[string]any
		if mcErr.Details != nil {
			details, _ = safety.MaskSensitive(mcErr.Details).(map[string]any)
		}
		env := jsonErrorEnvelope{
			Timestamp:     time.Now(),
			Category:      string(mcErr.Kind),
			ExitCode:      int(code),
			Message:       errs.HumanMessage(mcErr),
			CorrelationID: cc.CorrelationID,
			Details:       details,
		}
		_ = json.NewEncoder(d.stdout()).Encode(env)
		return
	}
	out := d.stderr()
	prefix := "Error:"
	if term.IsTerminal(int(out.Fd())) && !color.NoColor {
		prefix = color.New(color.FgRed, color.Bold).Sprint("Error:")
	}
	fmt.Fprintf(out, "%s %s\n", prefix, errs.HumanMessage(mcErr))
}

func (d *Dispatcher) renderResult(cc *CommandContext, result any) {
	if result == nil {
		return
	}
	if cc.OutputMode == OutputJSON {
		_ = json.NewEncoder(d.stdout()).Encode(result)
		return
	}
	if s, ok := result.(string); ok {
		if s != "" {
			fmt.Fprintln(d.stdout(), s)
		}
		return
	}
	if r, ok := result.(fmt.Stringer); ok {
		fmt.Fprintln(d.stdout(), r.String())
		return
	}
	_ = json.NewEncoder(d.stdout()).Encode(result)
}
