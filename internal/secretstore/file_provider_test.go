package secretstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFileProviderRejectsPathEscapingBaseDir(t *testing.T) {
	baseDir := t.TempDir()
	outside := filepath.Join(filepath.Dir(baseDir), "outside-secrets.yaml")
	if err := os.WriteFile(outside, []byte("password: s3cr3t\n"), 0o600); err != nil {
		t.Fatalf("write outside file: %v", err)
	}
	defer os.Remove(outside)

	_, err := newFileProvider("../"+filepath.Base(outside), baseDir)
	if err == nil {
		t.Fatalf("expected a relative path escaping baseDir to be rejected")
	}
}

func TestNewFileProviderAllowsPathWithinBaseDir(t *testing.T) {
	baseDir := t.TempDir()
	secretsPath := filepath.Join(baseDir, "secrets.yaml")
	if err := os.WriteFile(secretsPath, []byte("password: s3cr3t\n"), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}

	provider, err := newFileProvider("secrets.yaml", baseDir)
	if err != nil {
		t.Fatalf("newFileProvider: %v", err)
	}
	val, err := provider.Resolve(nil, "password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if val != "s3cr3t" {
		t.Fatalf("value=%q, want s3cr3t", val)
	}
}

func TestNewVaultProviderDefaultMountIsMasterClawSpecific(t *testing.T) {
	provider, err := newVaultProvider(ProviderConfig{
		Address: "http://127.0.0.1:8200",
		Token:   "token",
	})
	if err != nil {
		t.Fatalf("newVaultProvider: %v", err)
	}
	if provider.mount != "masterclaw" {
		t.Fatalf("mount=%q, want masterclaw default", provider.mount)
	}
}
