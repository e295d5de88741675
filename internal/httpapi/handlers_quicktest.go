package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/quicktest"
)

type createQuickTestBody struct {
	AgentID   string `json:"agent_id"`
	ModelPath string `json:"model_path"`
	EngineKey string `json:"engine"`
	Suite     string `json:"suite"`
	Force     bool   `json:"force"`
}

func (s *Server) handleQuickTestCreate(w http.ResponseWriter, r *http.Request) {
	var body createQuickTestBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid quicktest body: %v", err))
		return
	}
	qt, err := s.qt.Create(r.Context(), quicktest.CreateRequest{
		AgentID: body.AgentID, ModelPath: body.ModelPath, EngineKey: body.EngineKey,
		Suite: body.Suite, Force: body.Force,
	})
	if err != nil {
		s.errOut(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, qt)
}

func (s *Server) handleQuickTestGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	qt, err := s.store.GetQuickTest(r.Context(), id)
	if err != nil {
		s.errOut(w, apperrors.Wrap(apperrors.CodeNotFound, "httpapi: get quicktest", err))
		return
	}
	writeJSON(w, http.StatusOK, qt)
}

// authenticateQuickTestAgent verifies the bearer token against the agent
// that owns quickTestID, since the logs/status endpoints are keyed by
// quick-test id rather than agent id (spec §4.6).
func (s *Server) authenticateQuickTestAgent(r *http.Request, quickTestID string) (domain.QuickTest, error) {
	qt, err := s.store.GetQuickTest(r.Context(), quickTestID)
	if err != nil {
		return domain.QuickTest{}, apperrors.Wrap(apperrors.CodeNotFound, "httpapi: unknown quicktest", err)
	}
	token, ok := bearerToken(r)
	if !ok {
		return domain.QuickTest{}, apperrors.Auth("httpapi: missing bearer token")
	}
	if _, err := s.agents.Authenticate(r.Context(), qt.AgentID, token); err != nil {
		return domain.QuickTest{}, err
	}
	return qt, nil
}

type appendLogBody struct {
	Line string `json:"line"`
}

func (s *Server) handleQuickTestLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	qt, err := s.authenticateQuickTestAgent(r, id)
	if err != nil {
		s.errOut(w, err)
		return
	}
	var body appendLogBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid log body: %v", err))
		return
	}
	if err := s.store.AppendQuickTestLog(r.Context(), qt.ID, body.Line); err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: append quicktest log"))
		return
	}
	if _, err := s.bus.Publish(r.Context(), domain.Event{
		Type: domain.EventLog, SourceID: qt.ID, Payload: mustJSON(map[string]string{"line": body.Line}),
	}); err != nil && s.log != nil {
		s.log.WithField("error", err).Warn("httpapi: publish log event failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusUpdateBody struct {
	Status domain.QuickTestStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
	ResultID string               `json:"result_id,omitempty"`
}

func (s *Server) handleQuickTestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.authenticateQuickTestAgent(r, id); err != nil {
		s.errOut(w, err)
		return
	}
	var body statusUpdateBody
	if err := decodeJSON(r, &body); err != nil {
		s.errOut(w, apperrors.Validation("httpapi: invalid status body: %v", err))
		return
	}
	if err := s.qt.Transition(r.Context(), id, body.Status, body.Error); err != nil {
		s.errOut(w, err)
		return
	}
	if body.ResultID != "" {
		if err := s.store.LinkQuickTestResult(r.Context(), id, body.ResultID); err != nil {
			s.errOut(w, apperrors.Fatal(err, "httpapi: link quicktest result"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuickTestCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.qt.Cancel(r.Context(), id); err != nil {
		s.errOut(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
