package build

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBinaryNameFromPackageDefault(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "Cargo.toml")
	content := "[package]\nname = \"main\"\nversion = \"0.1.0\"\n"
	if err := os.WriteFile(manifestPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	name, err := binaryName(dir, "main")
	if err != nil {
		t.Fatalf("binaryName: %v", err)
	}
	if name != "main" {
		t.Fatalf("got %q, want main", name)
	}
}

func TestBinaryNameFromExplicitBinEntry(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "Cargo.toml")
	content := "[package]\nname = \"workspace\"\n\n[[bin]]\nname = \"worker\"\npath = \"src/worker.rs\"\n"
	if err := os.WriteFile(manifestPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	name, err := binaryName(dir, "worker")
	if err != nil {
		t.Fatalf("binaryName: %v", err)
	}
	if name != "worker" {
		t.Fatalf("got %q, want worker", name)
	}
}

func TestBinaryNameManifestUnreadable(t *testing.T) {
	dir := t.TempDir()
	if _, err := binaryName(dir, "main"); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestTailOfTruncatesTo20Lines(t *testing.T) {
	var lines string
	for i := 0; i < 30; i++ {
		lines += "line\n"
	}
	got := tailOf(lines)
	count := 1
	for _, c := range got {
		if c == '\n' {
			count++
		}
	}
	if count != 20 {
		t.Fatalf("expected 20 lines, got %d", count)
	}
}
