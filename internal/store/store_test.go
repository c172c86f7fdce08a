package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Count int    `json:"count"`
	Name  string `json:"name"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	in := sample{Count: 3, Name: "alice"}
	if err := Save(path, in, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != ownerFileMode {
		t.Fatalf("expected mode %o, got %o", ownerFileMode, info.Mode().Perm())
	}

	var out sample
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestLoadMissingFileLeavesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")
	out := sample{Count: 7, Name: "default"}
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Count != 7 || out.Name != "default" {
		t.Fatalf("expected default to survive missing file, got %+v", out)
	}
}

func TestLoadCorruptFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := sample{Count: 9, Name: "fallback"}
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load should never error on corrupt state: %v", err)
	}
	if out.Count != 9 {
		t.Fatalf("expected default preserved on corrupt file, got %+v", out)
	}
}

func TestLoadStripsDangerousKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poison.json")
	raw := []byte(`{"__proto__":{"polluted":true},"count":5,"name":"x"}`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out sample
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Count != 5 || out.Name != "x" {
		t.Fatalf("expected sanitized fields to load, got %+v", out)
	}
}

func TestLoadRejectsOverDeepJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep.json")
	depth := maxJSONDepth + 10
	var buf []byte
	for i := 0; i < depth; i++ {
		buf = append(buf, '{')
		buf = append(buf, []byte(`"a":`)...)
	}
	buf = append(buf, '1')
	for i := 0; i < depth; i++ {
		buf = append(buf, '}')
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := sample{Count: 1}
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected default preserved when depth cap trips, got %+v", out)
	}
}

func TestAtomicUpdateAppliesTransform(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")

	transform := func(current any) (any, error) {
		s := current.(*sample)
		s.Count++
		return s, nil
	}
	for i := 0; i < 3; i++ {
		err := AtomicUpdate(context.Background(), path, func() any { return &sample{} }, nil, transform, nil)
		if err != nil {
			t.Fatalf("AtomicUpdate iteration %d: %v", i, err)
		}
	}
	var out sample
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Count != 3 {
		t.Fatalf("expected count 3 after three updates, got %d", out.Count)
	}
}

func TestAtomicUpdateLeavesStateOnTransformError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")
	if err := Save(path, sample{Count: 42}, nil); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	err := AtomicUpdate(context.Background(), path, func() any { return &sample{} }, nil, func(any) (any, error) {
		return nil, json.Unmarshal([]byte("not json"), &struct{}{})
	}, nil)
	if err == nil {
		t.Fatalf("expected transform error to propagate")
	}
	var out sample
	if err := Load(path, &out, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Count != 42 {
		t.Fatalf("expected prior state preserved after failed transform, got %+v", out)
	}
}
