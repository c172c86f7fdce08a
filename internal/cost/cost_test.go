package cost

import (
	"context"
	"testing"
)

func TestRecordAccumulatesAndAdmits(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, nil)

	res, err := tr.Record(context.Background(), "search", 100)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Admitted || res.TotalCents != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRecordExceedsLimit(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, nil)

	_, err := tr.Record(context.Background(), "search", PolicyFor("search").LimitCents+1)
	if err == nil {
		t.Fatalf("expected a budget error")
	}

	totals, err := tr.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals["search"] != PolicyFor("search").LimitCents+1 {
		t.Fatalf("expected spend still persisted despite exceeding the limit, got %+v", totals)
	}
}

func TestResetClearsCategory(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, nil)

	if _, err := tr.Record(context.Background(), "workflow", 50); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tr.Reset(context.Background(), "workflow"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	totals, err := tr.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if _, ok := totals["workflow"]; ok {
		t.Fatalf("expected workflow category cleared, got %+v", totals)
	}
}
