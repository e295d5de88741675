package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitt-bench/controller/internal/apperrors"
)

type ctxKey int

const ctxKeyAgentID ctxKey = iota

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// requestLogger mirrors the teacher's request-logging middleware shape: one
// structured line per request with method, path, status and latency, and
// also feeds the kitt_http_requests_total/duration collectors.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		if s.log != nil {
			s.log.WithField("method", r.Method).WithField("path", r.URL.Path).
				WithField("status", ww.status).WithField("duration", elapsed).Info("http request")
		}
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.status), elapsed)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireBearer builds middleware that checks the request bears exactly the
// token returned by want (used for the shared admin and registration
// tokens). An empty want disables the check - useful for local dev.
func (s *Server) requireBearer(want func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expect := want()
			if expect == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok || token != expect {
				s.errOut(w, apperrors.Auth("httpapi: missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requireBearer(func() string { return s.cfg.AdminToken })(next)
}

// requireAgentToken authenticates a per-agent bearer token against the
// {id} path param, which must name the agent directly (used for the
// heartbeat endpoint; spec §4.3/§6).
func (s *Server) requireAgentToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "id")
		token, ok := bearerToken(r)
		if !ok {
			s.errOut(w, apperrors.Auth("httpapi: missing bearer token"))
			return
		}
		agent, err := s.agents.Authenticate(r.Context(), agentID, token)
		if err != nil {
			s.errOut(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAgentID, agent.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitHeartbeat bounds heartbeat frequency per agent (spec §5).
func (s *Server) rateLimitHeartbeat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "id")
		if !s.limiter.allow(agentID) {
			s.errOut(w, apperrors.Conflict("httpapi: heartbeat rate limit exceeded for agent %s", agentID))
			return
		}
		next.ServeHTTP(w, r)
	})
}
