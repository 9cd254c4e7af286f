package mcpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mcprun/internal/appconfig"
	"github.com/loykin/mcprun/internal/controller"
	"github.com/loykin/mcprun/internal/procexec"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := appconfig.Config{
		MCPPort:    9999,
		ProjectDir: dir,
		Process: map[string]procexec.Spec{
			"web": {Name: "web", Kind: procexec.KindExternal, Command: []string{"/bin/true"}},
		},
	}
	ctrl, err := controller.New(cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return New(ctrl, nil)
}

func post(t *testing.T, s *Server, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return out
}

func TestHandshakeReturnsProtocolVersion(t *testing.T) {
	s := newTestServer(t)
	out := post(t, s, map[string]interface{}{"op": "handshake"})
	if out["ok"] != true {
		t.Fatalf("expected ok=true, got %+v", out)
	}
	result := out["result"].(map[string]interface{})
	if result["protocol_version"] != protocolVersion {
		t.Fatalf("expected protocol_version %s, got %+v", protocolVersion, result)
	}
}

func TestUnknownOperationReturnsError(t *testing.T) {
	s := newTestServer(t)
	out := post(t, s, map[string]interface{}{"op": "nonexistent"})
	if out["ok"] != false {
		t.Fatalf("expected ok=false, got %+v", out)
	}
}

func TestSearchLogsOnMissingInstanceReturnsInstanceNotFound(t *testing.T) {
	s := newTestServer(t)
	out := post(t, s, map[string]interface{}{"op": "search_logs", "process": "ghost"})
	if out["ok"] != false {
		t.Fatalf("expected ok=false, got %+v", out)
	}
	errObj := out["error"].(map[string]interface{})
	if errObj["kind"] != "InstanceNotFound" {
		t.Fatalf("expected InstanceNotFound, got %+v", errObj)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
