// Package ratelimit implements the sliding-window admission control of
// §4.8, keyed by (userIdentity, commandCategory) and persisted through L2
// so admission state survives across invocations of the CLI.
//
// Grounded on the teacher's internal/secretstore validate-then-load
// pattern for state-shape rejection (non-object roots, forbidden keys,
// corrupt entries treated as a reset rather than a crash), and on
// rcourtman-Pulse's throttle-style admission accounting (conceptually: a
// persisted slice of recent-event timestamps pruned against a window),
// adapted here to cross-process durable state via internal/store instead
// of an in-memory map, since admission must survive process exit.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/store"
)

// Policy is the (max, windowMs) admission policy for one category class.
type Policy struct {
	Max      int
	WindowMs int64
}

// maxSequenceLen is the corruption threshold from §4.8: validate rejects
// a stored sequence longer than this, so store.Load discards the whole
// state file (every bucket, not only the long one), logs a security event
// through the logger, and the next save writes the reset state. No audit
// record is written for it. Check's own length test sets
// Result.ResetOccurred, but state that passed validate never holds a
// sequence that long, so Check does not report such a reset.
const maxSequenceLen = 200

// defaultPolicies implements the §4.8 category table.
var defaultPolicies = map[string]Policy{
	"restore":    {Max: 3, WindowMs: 300000},
	"config-fix": {Max: 5, WindowMs: 60000},
	"exec":       {Max: 5, WindowMs: 60000},
	"deploy":     {Max: 5, WindowMs: 300000},
	"update":     {Max: 10, WindowMs: 60000},
	"import":     {Max: 10, WindowMs: 60000},
	"status":     {Max: 60, WindowMs: 60000},
	"logs":       {Max: 60, WindowMs: 60000},
	"validate":   {Max: 60, WindowMs: 60000},
}

var defaultPolicy = Policy{Max: 30, WindowMs: 60000}

// PolicyFor returns the configured policy for category, falling back to
// the default class.
func PolicyFor(category string) Policy {
	if p, ok := defaultPolicies[category]; ok {
		return p
	}
	return defaultPolicy
}

// CategoryOf extracts the category (first token) from a command path,
// e.g. "deploy rolling" -> "deploy".
func CategoryOf(commandPath string) string {
	fields := strings.Fields(commandPath)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type fileState struct {
	Buckets map[string][]int64 `json:"buckets"` // key -> sorted ascending unix-millis timestamps
}

func validate(v any) error {
	root, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("rate-limit state root must be an object")
	}
	buckets, ok := root["buckets"]
	if !ok {
		return nil // forward-compat: absent buckets is fine, treated as empty
	}
	bucketsMap, ok := buckets.(map[string]any)
	if !ok {
		return fmt.Errorf("rate-limit buckets must be an object")
	}
	for key, entries := range bucketsMap {
		arr, ok := entries.([]any)
		if !ok {
			return fmt.Errorf("rate-limit bucket %q must be an array", key)
		}
		if len(arr) > maxSequenceLen {
			return fmt.Errorf("rate-limit bucket %q exceeds max sequence length", key)
		}
		for _, e := range arr {
			n, ok := e.(float64)
			if !ok {
				return fmt.Errorf("rate-limit bucket %q contains a non-numeric timestamp", key)
			}
			if n < 0 {
				return fmt.Errorf("rate-limit bucket %q contains a negative timestamp", key)
			}
		}
	}
	return nil
}

// Limiter enforces admission against the on-disk bucket state.
type Limiter struct {
	path string
	log  logging.Logger
	now  func() int64 // injectable for tests
}

// New constructs a Limiter backed by $stateDir/rate-limits.json.
func New(stateDir string, log logging.Logger) *Limiter {
	return &Limiter{path: stateDir + "/rate-limits.json", log: log, now: nowMillis}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Result is the outcome of a Check call.
type Result struct {
	Admitted        bool
	RetryAfterMs    int64
	ResetOccurred   bool // true if Check itself dropped an over-long bucket; see maxSequenceLen
}

// Check enforces the sliding-window policy for (userIdentity, category):
// drop timestamps older than windowMs, deny if the remaining count is
// already at max, otherwise record now and admit.
func (l *Limiter) Check(ctx context.Context, userIdentity, category string) (Result, error) {
	policy := PolicyFor(category)
	key := userIdentity + "|" + category
	now := l.now()

	var result Result
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected rate-limit state shape")
		}
		if state.Buckets == nil {
			state.Buckets = map[string][]int64{}
		}
		bucket := state.Buckets[key]
		if len(bucket) > maxSequenceLen {
			bucket = nil
			result.ResetOccurred = true
		}
		cutoff := now - policy.WindowMs
		kept := bucket[:0]
		for _, ts := range bucket {
			if ts >= cutoff {
				kept = append(kept, ts)
			}
		}
		if len(kept) >= policy.Max {
			result.Admitted = false
			oldest := kept[0]
			result.RetryAfterMs = oldest + policy.WindowMs - now
			if result.RetryAfterMs < 0 {
				result.RetryAfterMs = 0
			}
			state.Buckets[key] = kept
			return state, nil
		}
		kept = append(kept, now)
		state.Buckets[key] = kept
		result.Admitted = true
		return state, nil
	}

	err := store.AtomicUpdate(ctx, l.path, func() any { return &fileState{} }, validate, transform, l.log)
	if err != nil {
		return Result{}, err
	}
	if !result.Admitted {
		return result, errs.New(errs.KindBudget, errs.CodeRateLimited,
			fmt.Sprintf("rate limit exceeded for category %q", category)).
			WithRetryAfter(int(result.RetryAfterMs / 1000))
	}
	return result, nil
}

// BucketUsage is one (userIdentity, category) admission bucket's current
// occupancy, for operator inspection via `mc rate-limit show`.
type BucketUsage struct {
	UserIdentity string
	Category     string
	Count        int
	Max          int
	WindowMs     int64
}

// Show returns the current occupancy of every persisted bucket, without
// mutating any of them.
func (l *Limiter) Show(ctx context.Context) ([]BucketUsage, error) {
	var state fileState
	if err := store.Load(l.path, &state, validate, l.log); err != nil {
		return nil, err
	}
	now := l.now()
	usage := make([]BucketUsage, 0, len(state.Buckets))
	for key, bucket := range state.Buckets {
		userIdentity, category, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		policy := PolicyFor(category)
		cutoff := now - policy.WindowMs
		count := 0
		for _, ts := range bucket {
			if ts >= cutoff {
				count++
			}
		}
		usage = append(usage, BucketUsage{
			UserIdentity: userIdentity,
			Category:     category,
			Count:        count,
			Max:          policy.Max,
			WindowMs:     policy.WindowMs,
		})
	}
	return usage, nil
}

// Reset clears the admission bucket for (userIdentity, category), letting
// an operator manually lift a denial rather than waiting out the window.
func (l *Limiter) Reset(ctx context.Context, userIdentity, category string) error {
	key := userIdentity + "|" + category
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected rate-limit state shape")
		}
		if state.Buckets != nil {
			delete(state.Buckets, key)
		}
		return state, nil
	}
	return store.AtomicUpdate(ctx, l.path, func() any { return &fileState{} }, validate, transform, l.log)
}
