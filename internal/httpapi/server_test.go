package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kitt-bench/controller/internal/agentmgr"
	"github.com/kitt-bench/controller/internal/campaign"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage/memory"
	"github.com/kitt-bench/controller/internal/system"
	"github.com/kitt-bench/controller/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(store)
	engines := catalog.NewEngineRegistry()
	log := logger.NewDefault("test")
	agents := agentmgr.New(store, log, 30)
	disp := quicktest.New(store, bus, engines, catalog.NewBenchmarkRegistry(), agents, log)
	launcher := campaign.NewLauncher(store, bus, engines, disp, agents, system.NewManager(), log)
	m := metrics.NewWithRegistry("kittd-test", "0.0.0-test", prometheus.NewRegistry())
	return New(Config{AdminToken: "admin-secret", RegisterToken: "register-secret"}, store, bus, agents, disp, launcher, engines, m, log)
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAgentRegisterRejectsWrongRegisterToken(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents/register", "wrong-token", map[string]any{"name": "gpu1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAgentRegisterThenHeartbeat(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents/register", "register-secret", map[string]any{
		"id": "agent-1", "name": "gpu1", "is_test_agent": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var registered struct {
		Agent struct{ ID string }
		Token string
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.Token == "" {
		t.Fatal("expected a raw token on first registration")
	}

	hbRec := doJSON(t, s, http.MethodPost, "/api/v1/agents/"+registered.Agent.ID+"/heartbeat", registered.Token, map[string]any{
		"status": "online",
	})
	if hbRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", hbRec.Code, hbRec.Body.String())
	}
}

func TestAgentHeartbeatRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents/register", "register-secret", map[string]any{"id": "agent-2", "name": "gpu2"})
	var registered struct{ Agent struct{ ID string } }
	_ = json.Unmarshal(rec.Body.Bytes(), &registered)

	hbRec := doJSON(t, s, http.MethodPost, "/api/v1/agents/"+registered.Agent.ID+"/heartbeat", "not-the-token", map[string]any{"status": "online"})
	if hbRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", hbRec.Code)
	}
}

func TestQuickTestCreateRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/quicktest/", "", map[string]any{"agent_id": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestQuickTestCreateAgainstTestAgent(t *testing.T) {
	s := newTestServer(t)
	regRec := doJSON(t, s, http.MethodPost, "/api/v1/agents/register", "register-secret", map[string]any{
		"id": "agent-3", "name": "gpu3", "is_test_agent": true, "hardware": map[string]string{"cpu_arch": "amd64"},
	})
	var registered struct{ Agent struct{ ID string } }
	_ = json.Unmarshal(regRec.Body.Bytes(), &registered)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/quicktest/", "admin-secret", map[string]any{
		"agent_id": registered.Agent.ID, "model_path": "org/model.safetensors", "engine": "vllm", "suite": "throughput",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEventsStreamRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
