// Package cost implements a minimal but real budget-admission layer
// backing the BUDGET exit code (§6) and the `mc cost`/`mc slo`
// supplemented feature: a persisted running total of estimated cents
// spent per category, checked against a configured limit the same way
// L8 checks request rate, so BUDGET has an actual producer instead of
// being a vestigial exit code.
//
// Grounded on internal/ratelimit's persist-then-compare admission
// shape, with the sliding time window replaced by a running total,
// since budget policy here is a cap rather than a rate.
package cost

import (
	"context"
	"fmt"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/store"
)

// Policy is the limitCents admission policy for one cost category.
type Policy struct {
	LimitCents int64
}

var defaultPolicies = map[string]Policy{
	"workflow": {LimitCents: 5000},
	"search":   {LimitCents: 1000},
	"session":  {LimitCents: 2000},
}

var defaultPolicy = Policy{LimitCents: 10000}

// PolicyFor returns the configured policy for category, falling back to
// the default class.
func PolicyFor(category string) Policy {
	if p, ok := defaultPolicies[category]; ok {
		return p
	}
	return defaultPolicy
}

type fileState struct {
	TotalsCents map[string]int64 `json:"totalsCents"`
}

func validate(v any) error {
	if _, ok := v.(map[string]any); !ok {
		return errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "cost state root must be an object")
	}
	return nil
}

// Tracker persists running cost totals under $stateDir/cost.json.
type Tracker struct {
	path string
	log  logging.Logger
}

// New constructs a Tracker.
func New(stateDir string, log logging.Logger) *Tracker {
	return &Tracker{path: stateDir + "/cost.json", log: log}
}

// Result is the outcome of a Record call.
type Result struct {
	Admitted   bool
	TotalCents int64
	LimitCents int64
}

// Record adds incrementCents to category's running total. The increment
// is always persisted, even when it trips the limit — budget accounting
// must reflect actual spend; Admitted tells the caller whether a further
// operation in this category should be allowed to proceed.
func (t *Tracker) Record(ctx context.Context, category string, incrementCents int64) (Result, error) {
	policy := PolicyFor(category)
	var result Result
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected cost state shape")
		}
		if state.TotalsCents == nil {
			state.TotalsCents = map[string]int64{}
		}
		state.TotalsCents[category] += incrementCents
		result.TotalCents = state.TotalsCents[category]
		result.LimitCents = policy.LimitCents
		result.Admitted = result.TotalCents <= policy.LimitCents
		return state, nil
	}
	err := store.AtomicUpdate(ctx, t.path, func() any { return &fileState{} }, validate, transform, t.log)
	if err != nil {
		return Result{}, err
	}
	if !result.Admitted {
		return result, errs.New(errs.KindBudget, errs.CodeBudgetExceeded,
			fmt.Sprintf("cost budget exceeded for category %q: %d/%d cents", category, result.TotalCents, result.LimitCents))
	}
	return result, nil
}

// Totals returns the persisted running totals for `mc cost`/`mc slo`.
func (t *Tracker) Totals(ctx context.Context) (map[string]int64, error) {
	var state fileState
	if err := store.Load(t.path, &state, validate, t.log); err != nil {
		return nil, err
	}
	if state.TotalsCents == nil {
		return map[string]int64{}, nil
	}
	return state.TotalsCents, nil
}

// Reset zeroes category's running total, an operator override for a new
// billing period.
func (t *Tracker) Reset(ctx context.Context, category string) error {
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected cost state shape")
		}
		if state.TotalsCents != nil {
			delete(state.TotalsCents, category)
		}
		return state, nil
	}
	return store.AtomicUpdate(ctx, t.path, func() any { return &fileState{} }, validate, transform, t.log)
}
