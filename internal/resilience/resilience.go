// Package resilience implements the per-target circuit breaker and the
// bounded, jittered retry wrapper of §4.7. The retry wrapper always goes
// through the breaker, matching the spec's ordering.
//
// The breaker wraps github.com/sony/gobreaker (the dependency carried
// over from jordigilh-kubernaut's go.mod, used there the same way: a
// Settings{ReadyToTrip, Timeout, MaxRequests} construction passed to a
// per-channel/per-target manager). gobreaker's own half-open admission
// gate is keyed off MaxRequests, which does double duty as both "how many
// requests may run concurrently while half-open" and "how many
// consecutive successes close the breaker" — convenient for
// successThreshold but not sufficient on its own for the spec's "exactly
// one probe in half-open" concurrency requirement, so this package adds
// its own mutex around the two-step Allow/done cycle to serialize calls
// per breaker instance. For this CLI's call pattern (one breaker per
// logical target, invoked by one command at a time) full serialization
// per instance is equivalent to "exactly one outstanding probe" and is
// recorded as a deliberate simplification in DESIGN.md.
package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/store"
)

// BreakerConfig mirrors §4.7's named parameters.
type BreakerConfig struct {
	FailureThreshold   uint32
	ResetTimeoutMillis  int
	SuccessThreshold    uint32
}

// DefaultBreakerConfig matches the spec's stated defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, ResetTimeoutMillis: 10000, SuccessThreshold: 2}
}

// Breaker is a per-logical-target circuit breaker.
type Breaker struct {
	name string
	cfg  BreakerConfig
	cb   *gobreaker.CircuitBreaker
	mu   sync.Mutex // serializes calls so at most one probe runs while half-open
}

// NewBreaker constructs a Breaker identified by name (the logical target,
// e.g. an upstream service host) using cfg, falling back to
// DefaultBreakerConfig's zero-value fields.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ResetTimeoutMillis == 0 {
		cfg.ResetTimeoutMillis = 10000
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     time.Duration(cfg.ResetTimeoutMillis) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{name: name, cfg: cfg, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the current breaker state as one of "closed", "open", or
// "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Call serializes admission through the breaker and runs fn exactly once
// if admitted, recording the outcome. Returns a KindDependency/CIRCUIT_OPEN
// *errs.Error immediately if the breaker refuses admission.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errs.New(errs.KindDependency, errs.CodeCircuitOpen, "circuit breaker is open for "+b.name).
			WithRetryAfter(10)
	}
	return err
}

// Snapshot is a point-in-time, read-only view of a named breaker, for
// operator visibility (`mc circuits show`) and for L11's "open circuits"
// scan check. The breaker's actual admission decision is always made
// in-process against live gobreaker state; the persisted snapshot is
// best-effort observability, not the source of truth — matching the
// spec's own note that cross-process circuit agreement is best-effort.
type Snapshot struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type registryState struct {
	Breakers map[string]Snapshot `json:"breakers"`
}

func validateRegistryState(v any) error {
	if _, ok := v.(map[string]any); !ok {
		return errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "circuits state root must be an object")
	}
	return nil
}

// Registry owns the named breakers for a process and persists their
// state to $stateDir/circuits.json after every call, so `mc circuits
// show` and L11's heal scan can read it without holding a live Breaker.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	path     string
	log      logging.Logger
}

// NewRegistry builds a Registry backed by $stateDir/circuits.json.
func NewRegistry(stateDir string, log logging.Logger) *Registry {
	return &Registry{breakers: map[string]*Breaker{}, path: stateDir + "/circuits.json", log: log}
}

// Get returns the named breaker, constructing it with cfg on first use.
func (r *Registry) Get(name string, cfg BreakerConfig) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, cfg)
		r.breakers[name] = b
	}
	return b
}

// Reset forces the named breaker back to closed by discarding it and
// constructing a fresh instance with the same configuration — gobreaker's
// CircuitBreaker exposes no direct reset, so a clean replacement is the
// idiomatic way to clear its internal counts. A no-op if name is unknown.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	b, ok := r.breakers[name]
	if ok {
		r.breakers[name] = NewBreaker(name, b.cfg)
	}
	r.mu.Unlock()
	r.persist()
}

// Call runs fn through the named breaker and persists a snapshot of its
// resulting state.
func (r *Registry) Call(name string, cfg BreakerConfig, fn func() error) error {
	b := r.Get(name, cfg)
	err := b.Call(fn)
	r.persist()
	return err
}

func (r *Registry) persist() {
	r.mu.Lock()
	snapshot := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		snapshot[name] = Snapshot{Name: name, State: b.State()}
	}
	r.mu.Unlock()

	_ = store.Save(r.path, registryState{Breakers: snapshot}, r.log)
}

// Snapshots loads the persisted view for `mc circuits show`. Returns an
// empty map if nothing has been persisted yet (store.Load never errors on
// a missing file; it just leaves the destination at its zero value).
func Snapshots(stateDir string, log logging.Logger) (map[string]Snapshot, error) {
	var state registryState
	path := stateDir + "/circuits.json"
	if err := store.Load(path, &state, validateRegistryState, log); err != nil {
		return nil, err
	}
	if state.Breakers == nil {
		return map[string]Snapshot{}, nil
	}
	return state.Breakers, nil
}

// RetryConfig mirrors §4.7's retry defaults.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Idempotent indicates the caller's operation is safe to retry (GET,
	// HEAD, PUT, DELETE always are; POST must opt in explicitly).
	Idempotent bool
}

// DefaultRetryConfig matches the spec's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Idempotent: true}
}

// retryableCodes is the §4.7 retryable error-code set.
var retryableCodes = map[errs.Code]bool{
	errs.CodeTimeout:        true,
	errs.CodeConnectRefused: true,
	errs.CodeDNSFailure:     true,
}

// RetryableHTTPStatus reports whether an HTTP_STATUS(code) error should be
// retried per §4.7 (408, 429, 500, 502, 503, 504).
func RetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Do runs fn through breaker with bounded, jittered retry. fn should
// return an *errs.Error on failure so retryability can be classified; any
// other error type is treated as non-retryable.
func Do(ctx context.Context, breaker *Breaker, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries == 0 && cfg.BaseDelay == 0 && cfg.MaxDelay == 0 {
		cfg = DefaultRetryConfig()
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = breaker.Call(func() error { return fn(ctx) })
		if lastErr == nil {
			return nil
		}
		if !cfg.Idempotent || !isRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}
		delay := backoffDelay(cfg, attempt)
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindCancelled, errs.CodeCancelled, "retry cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	mcErr, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	if mcErr.Code == errs.CodeCircuitOpen {
		return false // circuit is already protecting the target; don't hammer it
	}
	if mcErr.Code == errs.CodeHTTPStatus {
		if code, ok := mcErr.Details["statusCode"].(int); ok {
			return RetryableHTTPStatus(code)
		}
		return false
	}
	return retryableCodes[mcErr.Code]
}

// backoffDelay computes delay_i = min(maxDelay, baseDelay*2^i) * jitter,
// jitter uniform in [0.7, 1.3], per §4.7.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	exp := base * time.Duration(1<<uint(attempt))
	if exp > maxDelay || exp <= 0 {
		exp = maxDelay
	}
	jitter := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(exp) * jitter)
}
