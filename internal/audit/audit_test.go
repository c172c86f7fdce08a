package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/masterclaw/internal/store"
)

func TestAppendAndVerify(t *testing.T) {
	dir := t.TempDir()
	log := Open(dir, []byte("test-key"), nil)

	for i := 0; i < 3; i++ {
		rec := Record{
			CorrelationID: "corr-1",
			UserIdentity:  "alice",
			EventType:     EventCommandExec,
			SubjectRef:    "mc-backend",
			Details:       map[string]any{"i": i},
		}
		if err := log.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	result, err := log.Verify(0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected clean chain to verify OK, failed at index %d", result.FailedIndex)
	}
	if result.RecordCount != 3 {
		t.Fatalf("expected 3 records, got %d", result.RecordCount)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	log := Open(dir, []byte("test-key"), nil)

	for i := 0; i < 3; i++ {
		rec := Record{EventType: EventAuth, SubjectRef: "session", Details: map[string]any{"i": i}}
		if err := log.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	records, err := log.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	records[1].SubjectRef = "tampered"
	state := fileState{Records: records}
	if err := store.Save(filepath.Join(dir, "audit.log"), state, nil); err != nil {
		t.Fatalf("store.Save: %v", err)
	}

	result, err := log.Verify(0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.OK {
		t.Fatalf("expected tampering to be detected")
	}
	if result.FailedIndex != 1 {
		t.Fatalf("expected failure at index 1, got %d", result.FailedIndex)
	}
}

func TestVerifyFromSkipsTrustedPrefix(t *testing.T) {
	dir := t.TempDir()
	log := Open(dir, []byte("test-key"), nil)

	for i := 0; i < 5; i++ {
		rec := Record{EventType: EventAuth, SubjectRef: "session", Details: map[string]any{"i": i}}
		if err := log.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// Tamper with an already-trusted record; Verify(3) must not notice
	// since it only replays from absolute index 3 onward.
	records, err := log.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	records[1].SubjectRef = "tampered"
	state := fileState{Records: records}
	if err := store.Save(filepath.Join(dir, "audit.log"), state, nil); err != nil {
		t.Fatalf("store.Save: %v", err)
	}

	result, err := log.Verify(3)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected Verify(3) to skip the tampered record at index 1, failed at %d", result.FailedIndex)
	}
	if result.RecordCount != 5 {
		t.Fatalf("expected RecordCount 5, got %d", result.RecordCount)
	}

	// Verify(0) still catches it.
	full, err := log.Verify(0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if full.OK {
		t.Fatalf("expected Verify(0) to detect the tampering Verify(3) skipped")
	}
}

func TestAppendRotatesSegmentPastThreshold(t *testing.T) {
	dir := t.TempDir()
	log := Open(dir, []byte("test-key"), nil)

	for i := 0; i < maxRecordsPerSegment+2; i++ {
		rec := Record{EventType: EventAuth, SubjectRef: "session", Details: map[string]any{"i": i}}
		if err := log.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	var state fileState
	if err := store.Load(filepath.Join(dir, "audit.log"), &state, nil, nil); err != nil {
		t.Fatalf("load live segment: %v", err)
	}
	if state.BaseIndex == 0 {
		t.Fatalf("expected the live segment to have rotated at least once, BaseIndex still 0")
	}
	if state.BaseSignature == "" {
		t.Fatalf("expected a carried-forward BaseSignature after rotation")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "audit.log.*"))
	if err != nil {
		t.Fatalf("glob archived segments: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected at least one archived audit.log.<unixnano> segment on disk")
	}

	result, err := log.Verify(state.BaseIndex)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected the post-rotation chain to verify OK from its own BaseIndex, failed at %d", result.FailedIndex)
	}
	if result.RecordCount != maxRecordsPerSegment+2 {
		t.Fatalf("expected RecordCount to reflect total records across segments, got %d", result.RecordCount)
	}
}

func TestAppendMasksSensitiveDetails(t *testing.T) {
	dir := t.TempDir()
	log := Open(dir, []byte("test-key"), nil)

	rec := Record{
		EventType:  EventSecretOp,
		SubjectRef: "vault",
		Details:    map[string]any{"apiToken": "sk-abcdefghijklmnop"},
	}
	if err := log.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	records, err := log.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if records[0].Details["apiToken"] == "sk-abcdefghijklmnop" {
		t.Fatalf("expected sensitive detail field to be masked before persisting")
	}
}
