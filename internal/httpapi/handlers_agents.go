package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitt-bench/controller/internal/agentmgr"
	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/domain"
)

type registerRequestBody struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Host     string          `json:"host"`
	Port     int             `json:"port"`
	Hardware domain.Hardware `json:"hardware"`
	IsTest   bool            `json:"is_test_agent"`
	Version  string          `json:"kitt_version"`
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequestBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid register body: %v", err))
		return
	}
	if body.Name == "" {
		s.errOut(w, apperrors.Validation("httpapi: register: name is required"))
		return
	}
	result, err := s.agents.Register(r.Context(), agentmgr.RegisterRequest{
		ID: body.ID, Name: body.Name, Host: body.Host, Port: body.Port,
		Hardware: body.Hardware, IsTest: body.IsTest, Version: body.Version,
	})
	if err != nil {
		s.errOut(w, err)
		return
	}
	resp := map[string]any{"agent": result.Agent}
	if result.RawToken != "" {
		resp["token"] = result.RawToken
	}
	writeJSON(w, http.StatusCreated, resp)
}

type heartbeatRequestBody struct {
	Status         domain.AgentStatus `json:"status"`
	Hardware       domain.Hardware    `json:"hardware"`
	StorageFreeGB  float64            `json:"storage_free_gb"`
	GPUUtilPercent float64            `json:"gpu_util_percent"`
	GPUMemGB       float64            `json:"gpu_mem_gb"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var body heartbeatRequestBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid heartbeat body: %v", err))
		return
	}
	result, err := s.agents.Heartbeat(r.Context(), agentID, agentmgr.HeartbeatPayload{
		Status: body.Status, Hardware: body.Hardware, StorageFreeGB: body.StorageFreeGB,
		GPUUtilPercent: body.GPUUtilPercent, GPUMemGB: body.GPUMemGB, UptimeSeconds: body.UptimeSeconds,
	})
	if err != nil {
		s.errOut(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordHeartbeat(agentID)
		if agents, err := s.store.ListAgents(r.Context()); err == nil {
			online := 0
			for _, a := range agents {
				if a.Status != domain.AgentOffline {
					online++
				}
			}
			s.metrics.SetAgentsOnline(online)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interval_s": result.IntervalS,
		"commands":   result.Commands,
		"settings":   result.Settings,
	})
}

func (s *Server) handleAgentRotateToken(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	raw, err := s.agents.RotateToken(r.Context(), agentID)
	if err != nil {
		s.errOut(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": raw})
}

func (s *Server) handleAgentGetSettings(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	settings, err := s.store.GetAgentSettings(r.Context(), agentID)
	if err != nil {
		s.errOut(w, apperrors.Wrap(apperrors.CodeNotFound, "httpapi: get settings", err))
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleAgentPutSettings(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid settings body: %v", err))
		return
	}
	for key, value := range body {
		if err := s.agents.PutSetting(r.Context(), agentID, key, value); err != nil {
			s.errOut(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: list agents"))
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleAgentCapabilities reports the known engines and the formats/archs
// they support, so a campaign author can validate a config client-side
// before creating it (spec §4.6).
func (s *Server) handleAgentCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"engines": s.engines.List()})
}

func (s *Server) handleAgentInstallScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-shellscript")
	_, _ = w.Write([]byte(agentInstallScript))
}

func (s *Server) handleAgentPackage(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "agent package build is not available from this endpoint yet", http.StatusNotImplemented)
}

const agentInstallScript = `#!/bin/sh
# Installs and registers the kitt benchmark agent daemon.
set -e
: "${KITT_CONTROLLER_URL:?KITT_CONTROLLER_URL must be set}"
: "${KITT_REGISTER_TOKEN:?KITT_REGISTER_TOKEN must be set}"
echo "fetching kittagent for $(uname -m)..."
curl -fsSL "$KITT_CONTROLLER_URL/agent/package" -o /tmp/kittagent.tar.gz
tar -xzf /tmp/kittagent.tar.gz -C /usr/local/bin
kittagent register --controller "$KITT_CONTROLLER_URL" --token "$KITT_REGISTER_TOKEN"
`
