// Package events implements the EventRecord entity of §3: operator-
// visible notices (health changes, heal findings, rate-limit denials)
// persisted newest-first, immutable except for the Acknowledged flag.
//
// Grounded on the teacher's internal/secretstore read-parse-validate
// pattern via internal/store (L2), the same substrate audit and
// rate-limit use; this package adds no new persistence idiom, only a
// new record shape.
package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/safety"
	"github.com/example/masterclaw/internal/store"
)

// Severity is the event's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Record is one EventRecord.
type Record struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Source       string         `json:"source"`
	Metadata     map[string]any `json:"metadata"`
	Acknowledged bool           `json:"acknowledged"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewID mints an id of the form evt_<unix-millis>_<12 hex chars>, per §6.
func NewID(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return fmt.Sprintf("evt_%d_%s", now.UnixMilli(), hex.EncodeToString(buf)), nil
}

type fileState struct {
	Records []Record `json:"records"`
}

func validate(v any) error {
	if _, ok := v.(map[string]any); !ok {
		return errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "events state root must be an object")
	}
	return nil
}

// Store persists EventRecords under $stateDir/events.json.
type Store struct {
	path string
	log  logging.Logger
}

// New constructs a Store.
func New(stateDir string, log logging.Logger) *Store {
	return &Store{path: stateDir + "/events.json", log: log}
}

// Append mints an id, masks sensitive metadata, and prepends rec to the
// newest-first list.
func (s *Store) Append(ctx context.Context, now time.Time, rec Record) (Record, error) {
	id, err := NewID(now)
	if err != nil {
		return Record{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "mint event id", err)
	}
	rec.ID = id
	rec.CreatedAt = now
	rec.Metadata = safety.MaskSensitive(toAnyMap(rec.Metadata)).(map[string]any)

	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected events state shape")
		}
		state.Records = append([]Record{rec}, state.Records...)
		return state, nil
	}
	err = store.AtomicUpdate(ctx, s.path, func() any { return &fileState{} }, validate, transform, s.log)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// List returns all events, newest-first (the on-disk order).
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var state fileState
	if err := store.Load(s.path, &state, validate, s.log); err != nil {
		return nil, err
	}
	return state.Records, nil
}

// Acknowledge marks the event identified by id as acknowledged — the one
// mutation an EventRecord permits after creation.
func (s *Store) Acknowledge(ctx context.Context, id string) error {
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected events state shape")
		}
		found := false
		for i := range state.Records {
			if state.Records[i].ID == id {
				state.Records[i].Acknowledged = true
				found = true
				break
			}
		}
		if !found {
			return nil, errs.New(errs.KindAbsent, errs.CodeNotFound, fmt.Sprintf("event %q not found", id))
		}
		return state, nil
	}
	return store.AtomicUpdate(ctx, s.path, func() any { return &fileState{} }, validate, transform, s.log)
}

// SortNewestFirst re-sorts records by CreatedAt descending, for use after
// bulk loads where ordering guarantees need re-asserting (e.g. after a
// manual state edit).
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
