package main

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeMinimalConfig(t *testing.T, dir string, port int) {
	t.Helper()
	body := "mcp_port = " + strconv.Itoa(port) + "\n"
	if err := os.WriteFile(filepath.Join(dir, ".mcp-run"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestSuperviseReturnsInternalErrorWhenPortAlreadyBound(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	writeMinimalConfig(t, dir, port)

	blocker, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer blocker.Close()

	got := supervise(dir)
	if got != exitInternal {
		t.Fatalf("expected exitInternal (%d) when mcp_port is already bound, got %d", exitInternal, got)
	}
}

func TestSuperviseReturnsConfigErrorOnMissingConfig(t *testing.T) {
	dir := t.TempDir()
	got := supervise(dir)
	if got != exitConfigError {
		t.Fatalf("expected exitConfigError (%d) with no .mcp-run file, got %d", exitConfigError, got)
	}
}
