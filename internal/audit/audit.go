// Package audit implements the append-only, HMAC-chained security log
// (§4.4). Every record's signature covers the previous record's signature
// plus its own canonical serialization, so tampering with any past record
// is detectable by replaying the chain.
//
// Grounded on the HMAC-over-canonical-payload verification idiom in
// Aureuma-si's apps/ReleaseParty/backend/internal/githubapp/webhook.go
// (GitHub webhook signature verification), adapted from one-shot
// verification to a hash chain, and written through internal/store (L2)
// the way the teacher's secretstore persists small JSON-ish documents.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/safety"
	"github.com/example/masterclaw/internal/store"
)

// EventType enumerates the §4.4 audit categories.
type EventType string

const (
	EventAuth            EventType = "AUTH"
	EventSecurityViolation EventType = "SECURITY_VIOLATION"
	EventConfigChange    EventType = "CONFIG_CHANGE"
	EventSecretOp        EventType = "SECRET_OP"
	EventCommandExec     EventType = "COMMAND_EXEC"
	EventRateLimitDenied EventType = "RATE_LIMIT_DENIED"
	EventBackupOp        EventType = "BACKUP_OP"
	EventRestoreOp       EventType = "RESTORE_OP"
)

// recordSep separates the previous signature from the canonical record
// payload in the HMAC input, matching §6's 0x1E (record separator) byte.
const recordSep = 0x1E

// Once the live segment holds this many records or its oldest record
// is older than maxSegmentAge, Append rotates it out to a timestamped
// audit.log.<unixnano> file before appending, bounding how much of the
// chain Verify has to replay on a long-lived host.
const (
	maxRecordsPerSegment = 5000
	maxSegmentAge        = 30 * 24 * time.Hour
)

// Record is one audit log entry. Signature is populated by Append and is
// never set by callers.
type Record struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlationID"`
	UserIdentity  string         `json:"userIdentity"`
	EventType     EventType      `json:"eventType"`
	SubjectRef    string         `json:"subjectRef"`
	Details       map[string]any `json:"details"`
	Signature     string         `json:"signature"`
}

// canonical returns the deterministic byte serialization of the record
// with its own Signature field cleared, used both when signing and when
// verifying.
func (r Record) canonical() ([]byte, error) {
	r.Signature = ""
	// map keys in Details are not guaranteed ordered by encoding/json for
	// nested maps, but Go's encoding/json sorts map[string]any keys when
	// marshaling, giving a deterministic byte sequence.
	return json.Marshal(r)
}

// Log is an append-only, HMAC-chained audit log backed by a single file
// under L2. key is the operator-held signing key; it is never persisted
// by this package.
type Log struct {
	path string
	key  []byte
	log  logging.Logger
}

// Open returns a Log bound to $MC_STATE_DIR/audit.log (or the given
// stateDir) using key as the HMAC signing key.
func Open(stateDir string, key []byte, log logging.Logger) *Log {
	return &Log{path: filepath.Join(stateDir, "audit.log"), key: key, log: log}
}

// fileState is the live audit segment. BaseIndex is the absolute record
// index (counting every record this log has ever held, including ones
// rotated out to earlier segment files) of Records[0]; BaseSignature is
// the signature of the record immediately before BaseIndex (empty for
// the log's very first segment). Carrying both forward across a
// rotation keeps the HMAC chain cryptographically continuous even
// though the rotated-out records no longer live in this file.
type fileState struct {
	Records       []Record `json:"records"`
	BaseIndex     int      `json:"baseIndex"`
	BaseSignature string   `json:"baseSignature"`
}

// Append masks Details, rotates the segment if it has grown past the
// size/age threshold, signs the record against the last stored
// signature, and persists it via an atomic L2 update. The returned
// error, if any, is an *errs.Error of KindDependency wrapping the
// underlying cause (which may itself be a KindIntegrity error).
func (a *Log) Append(ctx context.Context, rec Record) error {
	rec.Details = safety.MaskSensitive(toAnyMap(rec.Details)).(map[string]any)
	if err := a.rotateIfNeeded(); err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "rotate audit log", err)
	}
	validate := func(v any) error { return nil }
	transform := func(current any) (any, error) {
		state, ok := current.(*fileState)
		if !ok {
			return nil, errs.New(errs.KindIntegrity, errs.CodeIntegrityFailed, "unexpected audit state shape")
		}
		prevSig := state.BaseSignature
		if n := len(state.Records); n > 0 {
			prevSig = state.Records[n-1].Signature
		}
		sig, err := a.sign(prevSig, rec)
		if err != nil {
			return nil, err
		}
		rec.Signature = sig
		state.Records = append(state.Records, rec)
		return state, nil
	}
	err := store.AtomicUpdate(ctx, a.path, func() any { return &fileState{} }, validate, transform, a.log)
	if err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "append audit record", err)
	}
	return nil
}

// rotateIfNeeded archives the current live segment to
// audit.log.<unixnano> (via the same L2 Save used for the live file)
// and replaces it with an empty segment anchored to the archived
// segment's last signature, once the live segment is big or old enough
// to warrant splitting. This runs before the AtomicUpdate in Append
// rather than inside its Transform, since Transform must stay pure and
// a rotation is itself a file write; the brief window between this
// unlocked read and Append's own locked read/write is a best-effort
// gap, not a transactional one.
func (a *Log) rotateIfNeeded() error {
	var state fileState
	if err := store.Load(a.path, &state, nil, a.log); err != nil {
		return err
	}
	if len(state.Records) == 0 {
		return nil
	}
	if len(state.Records) < maxRecordsPerSegment && time.Since(state.Records[0].Timestamp) < maxSegmentAge {
		return nil
	}

	archivePath := fmt.Sprintf("%s.%d", a.path, time.Now().UnixNano())
	if err := store.Save(archivePath, state, a.log); err != nil {
		return fmt.Errorf("archive rotated audit segment: %w", err)
	}

	last := state.Records[len(state.Records)-1]
	fresh := fileState{
		BaseIndex:     state.BaseIndex + len(state.Records),
		BaseSignature: last.Signature,
	}
	return store.Save(a.path, fresh, a.log)
}

func (a *Log) sign(prevSig string, rec Record) (string, error) {
	payload, err := rec.canonical()
	if err != nil {
		return "", fmt.Errorf("canonicalize audit record: %w", err)
	}
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(prevSig))
	mac.Write([]byte{recordSep})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// All loads every record currently on disk, in append order.
func (a *Log) All() ([]Record, error) {
	var state fileState
	if err := store.Load(a.path, &state, nil, a.log); err != nil {
		return nil, err
	}
	return state.Records, nil
}

// VerifyResult is the outcome of replaying the hash chain. FailedIndex
// and RecordCount are absolute record indices, counting every record
// the log has ever held including ones since rotated out to earlier
// segment files.
type VerifyResult struct {
	OK          bool
	FailedIndex int // -1 if OK
	RecordCount int
}

// Verify replays the live segment's chain starting at absolute record
// index from, recomputing each signature from the previous one and
// failing fast at the first mismatch, matching §8 testable property 7
// and scenario E6 when from is 0. Passing a nonzero from (via
// `mc audit verify --from N`) trusts every record before N as already
// verified and only re-derives the chain forward from there, so
// reverifying a long-lived, rotated log doesn't mean replaying its
// entire history on every run. Records rotated out to earlier
// audit.log.<unixnano> segments are not replayed directly; the live
// segment's BaseSignature anchors them into the chain cryptographically
// without needing to read them back.
func (a *Log) Verify(from int) (VerifyResult, error) {
	var state fileState
	if err := store.Load(a.path, &state, nil, a.log); err != nil {
		return VerifyResult{}, err
	}
	records := state.Records
	total := state.BaseIndex + len(records)

	rel := from - state.BaseIndex
	if rel < 0 {
		rel = 0
	}
	if rel > len(records) {
		return VerifyResult{OK: true, FailedIndex: -1, RecordCount: total}, nil
	}

	prevSig := state.BaseSignature
	if rel > 0 {
		prevSig = records[rel-1].Signature
	}
	for i := rel; i < len(records); i++ {
		rec := records[i]
		want, err := a.sign(prevSig, rec)
		if err != nil {
			return VerifyResult{}, err
		}
		if !hmacEqual(want, rec.Signature) {
			return VerifyResult{OK: false, FailedIndex: state.BaseIndex + i, RecordCount: total}, nil
		}
		prevSig = rec.Signature
	}
	return VerifyResult{OK: true, FailedIndex: -1, RecordCount: total}, nil
}

func hmacEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
