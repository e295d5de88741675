package agentrt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestControllerClientRegisterAndHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/agents/register":
			if r.Header.Get("Authorization") != "Bearer shared-secret" {
				http.Error(w, "bad register token", http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"agent": map[string]string{"id": "agent-1", "name": "host-1"},
				"token": "agent-token",
			})
		case "/api/v1/agents/agent-1/heartbeat":
			if r.Header.Get("Authorization") != "Bearer agent-token" {
				http.Error(w, "bad agent token", http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"interval_s": 15,
				"commands":   []map[string]any{},
				"settings":   map[string]string{"auto_cleanup": "true"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewControllerClient(srv.URL, "")
	regResp, err := client.Register(context.Background(), "shared-secret", RegisterRequest{Name: "host-1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if regResp.Agent.ID != "agent-1" || regResp.Token != "agent-token" {
		t.Fatalf("unexpected register response: %+v", regResp)
	}

	client = NewControllerClient(srv.URL, regResp.Token)
	hbResp, err := client.Heartbeat(context.Background(), regResp.Agent.ID, HeartbeatRequest{})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if hbResp.IntervalS != 15 {
		t.Fatalf("expected interval_s=15, got %d", hbResp.IntervalS)
	}
	if hbResp.Settings["auto_cleanup"] != "true" {
		t.Fatalf("expected settings to round-trip, got %+v", hbResp.Settings)
	}
}

func TestControllerClientHeartbeatNotRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agent", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewControllerClient(srv.URL, "stale-token")
	_, err := client.Heartbeat(context.Background(), "ghost-agent", HeartbeatRequest{})
	if err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}
