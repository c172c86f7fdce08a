package ratelimit

import (
	"context"
	"testing"

	"github.com/example/masterclaw/internal/errs"
)

func newTestLimiter(t *testing.T, startMs int64) *Limiter {
	t.Helper()
	dir := t.TempDir()
	l := New(dir, nil)
	clock := startMs
	l.now = func() int64 { return clock }
	return l
}

func TestCheckAdmitsUpToMaxThenDenies(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	clock := int64(1_000_000)
	l.now = func() int64 { return clock }

	// "status" category: max 60 in 60000ms window. Use a low-max custom
	// category via defaultPolicy instead to keep the test fast: "widget"
	// falls through to defaultPolicy{Max:30}.
	for i := 0; i < 30; i++ {
		res, err := l.Check(context.Background(), "alice", "widget")
		if err != nil {
			t.Fatalf("admit %d: unexpected error %v", i, err)
		}
		if !res.Admitted {
			t.Fatalf("admit %d: expected admission", i)
		}
		clock++
	}

	_, err := l.Check(context.Background(), "alice", "widget")
	mcErr, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if mcErr.Code != errs.CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", mcErr.Code)
	}
}

func TestCheckWindowSlidesOpen(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	clock := int64(0)
	l.now = func() int64 { return clock }

	for i := 0; i < 30; i++ {
		if _, err := l.Check(context.Background(), "bob", "widget"); err != nil {
			t.Fatalf("seed admit %d: %v", i, err)
		}
	}
	if _, err := l.Check(context.Background(), "bob", "widget"); err == nil {
		t.Fatalf("expected denial once window is full")
	}

	clock += defaultPolicy.WindowMs + 1
	res, err := l.Check(context.Background(), "bob", "widget")
	if err != nil {
		t.Fatalf("expected admission after window slides, got %v", err)
	}
	if !res.Admitted {
		t.Fatalf("expected admission after window slides")
	}
}

func TestCheckSeparatesUsersAndCategories(t *testing.T) {
	l := newTestLimiter(t, 0)
	for i := 0; i < 5; i++ {
		if _, err := l.Check(context.Background(), "carol", "deploy"); err != nil {
			t.Fatalf("deploy admit %d: %v", i, err)
		}
	}
	if _, err := l.Check(context.Background(), "carol", "deploy"); err == nil {
		t.Fatalf("expected deploy category to be exhausted at max=5")
	}
	if _, err := l.Check(context.Background(), "carol", "status"); err != nil {
		t.Fatalf("expected a different category to be unaffected: %v", err)
	}
	if _, err := l.Check(context.Background(), "dave", "deploy"); err != nil {
		t.Fatalf("expected a different user to be unaffected: %v", err)
	}
}

func TestShowReportsUsage(t *testing.T) {
	l := newTestLimiter(t, 0)
	for i := 0; i < 3; i++ {
		if _, err := l.Check(context.Background(), "carol", "deploy"); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	usage, err := l.Show(context.Background())
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("expected 1 bucket, got %d (%+v)", len(usage), usage)
	}
	got := usage[0]
	if got.UserIdentity != "carol" || got.Category != "deploy" || got.Count != 3 {
		t.Fatalf("unexpected usage entry: %+v", got)
	}
	if got.Max != PolicyFor("deploy").Max {
		t.Fatalf("expected Max=%d, got %d", PolicyFor("deploy").Max, got.Max)
	}
}

func TestResetClearsBucket(t *testing.T) {
	l := newTestLimiter(t, 0)
	for i := 0; i < 5; i++ {
		if _, err := l.Check(context.Background(), "carol", "deploy"); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if _, err := l.Check(context.Background(), "carol", "deploy"); err == nil {
		t.Fatalf("expected deploy category to be exhausted before Reset")
	}

	if err := l.Reset(context.Background(), "carol", "deploy"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if _, err := l.Check(context.Background(), "carol", "deploy"); err != nil {
		t.Fatalf("expected admission after Reset, got %v", err)
	}
}

func TestCategoryOf(t *testing.T) {
	cases := map[string]string{
		"deploy rolling": "deploy",
		"status":         "status",
		"":               "",
	}
	for in, want := range cases {
		if got := CategoryOf(in); got != want {
			t.Errorf("CategoryOf(%q) = %q, want %q", in, got, want)
		}
	}
}
