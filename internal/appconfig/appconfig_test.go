package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/mcprun/internal/procexec"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".mcp-run"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "mcp_port = 7777\n\n[process.main]\ntype = \"rust\"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MCPPort != 7777 {
		t.Fatalf("mcp_port = %d, want 7777", cfg.MCPPort)
	}
	if cfg.DevTimeoutHours != 3 {
		t.Fatalf("dev_timeout_hours default = %d, want 3", cfg.DevTimeoutHours)
	}
	if cfg.DevCrashWaitSeconds != 120 {
		t.Fatalf("dev_crash_wait_seconds default = %d, want 120", cfg.DevCrashWaitSeconds)
	}
	spec, ok := cfg.Process["main"]
	if !ok {
		t.Fatalf("expected process 'main' to be loaded")
	}
	if spec.Kind != procexec.KindRust {
		t.Fatalf("kind = %q, want rust", spec.Kind)
	}
	if spec.WorkDir != dir {
		t.Fatalf("work_dir = %q, want %q", spec.WorkDir, dir)
	}
}

func TestLoadRejectsMissingPort(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[process.main]\ntype = \"rust\"\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for missing mcp_port")
	}
}

func TestLoadRejectsExternalProcessWithoutCommand(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "mcp_port = 1234\n\n[process.web]\ntype = \"npm\"\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for npm process missing command")
	}
}

func TestLoadDetectsEnvrc(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "mcp_port = 1234\n\n[process.main]\ntype = \"rust\"\n")
	if err := os.WriteFile(filepath.Join(dir, ".envrc"), []byte("use flake\n"), 0o600); err != nil {
		t.Fatalf("write envrc: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.EnvWrapped {
		t.Fatalf("expected EnvWrapped=true when .envrc present")
	}
}
