// Package store implements the persistent substrate used by rate
// limiting, circuit breakers, audit, configuration, and events: atomic
// read/update/write of small owner-only JSON state files.
//
// Grounded on the teacher's (kubekattle-ktl) read-parse-validate pattern in
// internal/secretstore/file_provider.go, extended with gofrs/flock-backed
// advisory locking and rename-based atomic writes.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/safety"
)

// loadGroup collapses concurrent Load calls for the same path into one
// read-parse-validate pass: the dispatcher's own rate-limit, cost, and
// circuit checks can all fire from goroutines reading the same state
// file within a single invocation (e.g. a scan that checks several
// circuits at once), and there is no reason for each to redo the same
// disk read and JSON validation.
var loadGroup singleflight.Group

const (
	maxStateFileBytes = 10 * 1024 * 1024
	maxJSONDepth       = 64
	ownerFileMode      = 0o600
	ownerDirMode       = 0o700
	staleLockAge       = 5 * time.Minute
	lockAcquireTimeout = 2 * time.Second
)

// Validator checks a decoded JSON tree for structural/integrity problems
// beyond generic prototype-pollution stripping. It receives the tree after
// dangerous keys have already been removed.
type Validator func(v any) error

// Load reads path, parses it as JSON with a depth and byte cap, strips
// dangerous keys, and validates the result into dst (a pointer). On a
// missing file dst is left with whatever defaults the caller pre-populated
// it with. On a corrupt file it logs a security event and leaves dst
// unchanged, never propagating the parse error to the caller (loadState
// must never crash the dispatcher).
func Load(path string, dst any, validate Validator, log logging.Logger) error {
	v, err, _ := loadGroup.Do(path, func() (any, error) {
		return loadAndValidate(path, validate, log)
	})
	if err != nil {
		// loadAndValidate never returns an error itself (corruption is
		// logged and treated as "nothing to load"); this branch only
		// guards against a future change making that contract explicit.
		return nil
	}
	remarshaled, ok := v.([]byte)
	if !ok || remarshaled == nil {
		return nil
	}
	if err := json.Unmarshal(remarshaled, dst); err != nil {
		securityEvent(log, "state_decode_failed", map[string]any{"path": path, "error": err.Error()})
	}
	return nil
}

// loadAndValidate does the shared, cacheable-per-call work: read, depth
// check, parse, strip dangerous keys, validate, remarshal. A nil result
// means "leave dst unchanged" for every reason Load already tolerated
// (missing file, oversized file, corrupt JSON, failed validation).
func loadAndValidate(path string, validate Validator, log logging.Logger) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		securityEvent(log, "state_read_failed", map[string]any{"path": path, "error": err.Error()})
		return nil, nil
	}
	if len(raw) > maxStateFileBytes {
		securityEvent(log, "state_too_large", map[string]any{"path": path, "bytes": len(raw)})
		return nil, nil
	}
	if err := checkDepth(raw, maxJSONDepth); err != nil {
		securityEvent(log, "state_depth_exceeded", map[string]any{"path": path, "error": err.Error()})
		return nil, nil
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		securityEvent(log, "state_corrupt", map[string]any{"path": path, "error": err.Error()})
		return nil, nil
	}
	cleaned := safety.StripDangerousKeys(decoded)
	if validate != nil {
		if err := validate(cleaned); err != nil {
			securityEvent(log, "state_invalid", map[string]any{"path": path, "error": err.Error()})
			return nil, nil
		}
	}
	remarshaled, err := json.Marshal(cleaned)
	if err != nil {
		securityEvent(log, "state_remarshal_failed", map[string]any{"path": path, "error": err.Error()})
		return nil, nil
	}
	return remarshaled, nil
}

func securityEvent(log logging.Logger, eventType string, extra map[string]any) {
	if log != nil {
		log.SecurityEvent(eventType, extra)
	}
}

// checkDepth rejects JSON whose nesting exceeds maxDepth without fully
// decoding it, bounding the cost of a maliciously deep document.
func checkDepth(raw []byte, maxDepth int) error {
	depth := 0
	inString := false
	escaped := false
	for _, b := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxDepth {
				return fmt.Errorf("json nesting exceeds depth %d", maxDepth)
			}
		case '}', ']':
			depth--
		}
	}
	return nil
}

// Save marshals value as indented JSON, writes it to a temp file in the
// same directory, fsyncs, atomically renames it into place, and verifies
// the final permission is owner-only. Dangerous keys are stripped before
// writing.
func Save(path string, value any, log logging.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, ownerDirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	_ = os.Chmod(dir, ownerDirMode)

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		cleaned := safety.StripDangerousKeys(decoded)
		if raw, err = json.MarshalIndent(cleaned, "", "  "); err != nil {
			return fmt.Errorf("marshal cleaned state: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp state file: %w", err)
	}
	if err := tmp.Chmod(ownerFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename state file into place: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat state file: %w", err)
	}
	if info.Mode().Perm() != ownerFileMode {
		securityEvent(log, "state_permission_mismatch", map[string]any{"path": path, "mode": info.Mode().Perm().String()})
		_ = os.Chmod(path, ownerFileMode)
	}
	return nil
}

// Transform is a pure function applied to the loaded state by AtomicUpdate.
// It must not perform I/O; any side effects belong to the caller after
// AtomicUpdate returns.
type Transform func(current any) (updated any, err error)

// AtomicUpdate loads path into the value produced by newState(), applies
// transform, and saves the result, holding an advisory lock on the file
// path+".lock" for the duration so concurrent updates do not race. Locks
// older than staleLockAge are broken automatically. A failed transform
// leaves prior state on disk untouched.
func AtomicUpdate(ctx context.Context, path string, newState func() any, validate Validator, transform Transform, log logging.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, ownerDirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	lockPath := path + ".lock"
	breakStaleLock(lockPath)

	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("acquire advisory lock on %s: %w", path, err)
	}
	defer fl.Unlock()

	current := newState()
	if err := Load(path, current, validate, log); err != nil {
		return err
	}
	updated, err := transform(current)
	if err != nil {
		return err
	}
	return Save(path, updated, log)
}

func breakStaleLock(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > staleLockAge {
		_ = os.Remove(lockPath)
	}
}

// DefaultStateDir resolves $MC_STATE_DIR, falling back to
// ~/.masterclaw when unset, matching §6's "default owner-home" rule.
func DefaultStateDir(homeDir string) string {
	if dir := os.Getenv("MC_STATE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(homeDir, ".masterclaw")
}
