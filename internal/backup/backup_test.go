package backup

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, "config.json"), []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("seed config.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "audit.log"), []byte("line one\n"), 0o600); err != nil {
		t.Fatalf("seed audit.log: %v", err)
	}
	// A subdirectory (e.g. sessions/) must not be walked into by Snapshot.
	if err := os.MkdirAll(filepath.Join(stateDir, "sessions"), 0o700); err != nil {
		t.Fatalf("seed sessions dir: %v", err)
	}

	manifest, err := Snapshot(context.Background(), stateDir, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if manifest.Files != 2 {
		t.Fatalf("expected 2 archived files, got %d", manifest.Files)
	}
	if manifest.Bytes == 0 {
		t.Fatalf("expected non-zero archive size")
	}

	names, err := List(stateDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 snapshot listed, got %v", names)
	}

	restoreDir := t.TempDir()
	restored, err := Restore(context.Background(), restoreDir, manifest.Path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Files != 2 {
		t.Fatalf("expected 2 restored files, got %d", restored.Files)
	}
	got, err := os.ReadFile(filepath.Join(restoreDir, "config.json"))
	if err != nil {
		t.Fatalf("read restored config.json: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("restored content mismatch: %q", got)
	}
}

func TestListWithNoBackupsDirectory(t *testing.T) {
	names, err := List(t.TempDir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if names != nil {
		t.Fatalf("expected nil slice for an absent backups dir, got %v", names)
	}
}

func TestRestoreRejectsPathTraversal(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "malicious.tar.gz")
	writeMaliciousArchive(t, archivePath, "../../etc/passwd")

	stateDir := t.TempDir()
	if _, err := Restore(context.Background(), stateDir, archivePath); err == nil {
		t.Fatalf("expected Restore to reject a traversal entry")
	}
}

func writeMaliciousArchive(t *testing.T, archivePath, entryName string) {
	t.Helper()
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := []byte("payload")
	if err := tw.WriteHeader(&tar.Header{Name: entryName, Size: int64(len(content)), Mode: 0o600}); err != nil {
		t.Fatalf("write tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write tar entry: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
}
