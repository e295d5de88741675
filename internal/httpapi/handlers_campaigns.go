package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/domain"
)

type createCampaignBody struct {
	Name       string `json:"name"`
	AgentID    string `json:"agent_id"`
	ConfigYAML string `json:"config_yaml"`
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var body createCampaignBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid campaign body: %v", err))
		return
	}
	var cfg domain.CampaignConfig
	dec := yaml.NewDecoder(strings.NewReader(body.ConfigYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid campaign config: %v", err))
		return
	}
	if len(cfg.Models) == 0 || len(cfg.Engines) == 0 {
		s.errOut(w, apperrors.Validation("httpapi: campaign config requires at least one model and one engine"))
		return
	}

	name := body.Name
	if name == "" {
		name = cfg.CampaignName
	}
	c := domain.Campaign{
		ID: newCampaignID(), Name: name, Description: cfg.Description,
		ConfigYAML: body.ConfigYAML, Config: cfg, Status: domain.CampaignDraft,
		AgentID: body.AgentID, CreatedAt: time.Now(),
	}
	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: create campaign"))
		return
	}
	s.camps.ScheduleIfNeeded(c)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: list campaigns"))
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.errOut(w, apperrors.Wrap(apperrors.CodeNotFound, "httpapi: get campaign", err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignLaunch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.errOut(w, apperrors.Wrap(apperrors.CodeNotFound, "httpapi: launch campaign", err))
		return
	}
	// The executor only runs the queued->running edge; a fresh campaign
	// must cross draft->queued here before Launch attaches it.
	if c.Status == domain.CampaignDraft {
		if err := s.store.UpdateCampaignStatus(r.Context(), id, domain.CampaignQueued, ""); err != nil {
			s.errOut(w, apperrors.Fatal(err, "httpapi: queue campaign"))
			return
		}
	}
	exec, err := s.camps.Launch(r.Context(), id)
	if err != nil {
		s.errOut(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "launched", "executor": exec.Name()})
}

func (s *Server) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.camps.Cancel(r.Context(), id, nil); err != nil {
		s.errOut(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func newCampaignID() string { return uuid.NewString() }
