package events

import (
	"context"
	"testing"
	"time"

	"github.com/example/masterclaw/internal/errs"
)

func TestAppendPrependsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	base := time.Now()

	first, err := s.Append(context.Background(), base, Record{Type: "health", Severity: SeverityInfo, Title: "first"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(context.Background(), base.Add(time.Second), Record{Type: "health", Severity: SeverityWarning, Title: "second"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Fatalf("expected newest-first ordering, got %+v", records)
	}
}

func TestAcknowledgeMarksFlag(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	rec, err := s.Append(context.Background(), time.Now(), Record{Type: "heal", Title: "issue"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Acknowledge(context.Background(), rec.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	records, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !records[0].Acknowledged {
		t.Fatalf("expected record to be acknowledged")
	}
}

func TestAcknowledgeMissingIDReturnsAbsent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	err := s.Acknowledge(context.Background(), "evt_0_deadbeef0000")
	mcErr, ok := err.(*errs.Error)
	if !ok || mcErr.Kind != errs.KindAbsent {
		t.Fatalf("expected KindAbsent, got %v", err)
	}
}

func TestAppendMasksSensitiveMetadata(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	rec, err := s.Append(context.Background(), time.Now(), Record{
		Type:     "secret_op",
		Metadata: map[string]any{"apiToken": "sk-abcdefghijklmnop"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.Metadata["apiToken"] == "sk-abcdefghijklmnop" {
		t.Fatalf("expected sensitive metadata masked")
	}
}
