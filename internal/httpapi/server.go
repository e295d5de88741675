// Package httpapi publishes the versioned REST API and SSE streams
// described in spec §4.6: agent registration/heartbeat, quick-test
// dispatch, campaign lifecycle, and event replay/streaming.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kitt-bench/controller/internal/agentmgr"
	"github.com/kitt-bench/controller/internal/campaign"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/pkg/logger"
)

// Config carries the auth secrets and listener-adjacent knobs the API
// needs; everything else is wired through its collaborators.
type Config struct {
	AdminToken    string
	RegisterToken string
	CSRFKey       string
	// HeartbeatRatePerSecond bounds how many heartbeats a single agent can
	// send per second, guarding against a misbehaving agent hammering the
	// controller (spec §5: operations must be cooperative, not free-running).
	HeartbeatRatePerSecond float64
	// DashboardOrigins lists browser origins allowed to call the API with
	// credentials (the control-plane dashboard); agents never hit CORS since
	// they are not browsers.
	DashboardOrigins []string
}

// Server composes the HTTP handler. Handler() returns the root
// http.Handler to pass to an *http.Server.
type Server struct {
	cfg     Config
	store   storage.Store
	bus     *eventbus.Bus
	agents  *agentmgr.Manager
	qt      *quicktest.Dispatcher
	camps   *campaign.Launcher
	engines *catalog.EngineRegistry
	log     *logger.Logger
	metrics *metrics.Metrics
	router  chi.Router
	limiter *perAgentLimiter
}

// New builds a Server and assembles its routes. m may be nil, which
// disables metrics recording and the /metrics endpoint entirely.
func New(cfg Config, store storage.Store, bus *eventbus.Bus, agents *agentmgr.Manager, qt *quicktest.Dispatcher, camps *campaign.Launcher, engines *catalog.EngineRegistry, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg: cfg, store: store, bus: bus, agents: agents, qt: qt, camps: camps, engines: engines, metrics: m, log: log,
		limiter: newPerAgentLimiter(cfg.HeartbeatRatePerSecond),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Grounded on the pack's volaticloud cmd/server/main.go chi wiring:
	// request ID/real IP/recoverer/logger, then CORS for browser clients.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Last-Event-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(s.csrfMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/agent/install.sh", s.handleAgentInstallScript)
	r.Get("/agent/package", s.handleAgentPackage)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.With(s.requireBearer(func() string { return s.cfg.RegisterToken })).Post("/register", s.handleAgentRegister)
			r.With(s.requireAgentToken, s.rateLimitHeartbeat).Post("/{id}/heartbeat", s.handleAgentHeartbeat)
			r.With(s.requireAdmin).Post("/{id}/rotate-token", s.handleAgentRotateToken)
			r.With(s.requireAdmin).Get("/{id}/settings", s.handleAgentGetSettings)
			r.With(s.requireAdmin).Put("/{id}/settings", s.handleAgentPutSettings)
			r.With(s.requireAdmin).Get("/", s.handleAgentList)
		})

		r.Route("/quicktest", func(r chi.Router) {
			r.With(s.requireAdmin).Post("/", s.handleQuickTestCreate)
			r.With(s.requireAdmin).Post("/agent-capabilities", s.handleAgentCapabilities)
			r.Post("/{id}/logs", s.handleQuickTestLogs)
			r.Post("/{id}/status", s.handleQuickTestStatus)
			r.With(s.requireAdmin).Post("/{id}/cancel", s.handleQuickTestCancel)
			r.With(s.requireAdmin).Get("/{id}", s.handleQuickTestGet)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.With(s.requireAdmin).Post("/", s.handleCampaignCreate)
			r.With(s.requireAdmin).Get("/", s.handleCampaignList)
			r.With(s.requireAdmin).Get("/{id}", s.handleCampaignGet)
			r.With(s.requireAdmin).Post("/{id}/launch", s.handleCampaignLaunch)
			r.With(s.requireAdmin).Post("/{id}/cancel", s.handleCampaignCancel)
		})

		r.Route("/runs", func(r chi.Router) {
			r.With(s.requireAdmin).Get("/", s.handleRunsQuery)
			r.With(s.requireAdmin).Get("/aggregate", s.handleRunsAggregate)
		})

		r.With(s.requireAdmin).Get("/events/stream", s.handleEventStream)
		r.With(s.requireAdmin).Get("/events/stream/{source}", s.handleEventStream)
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.DashboardOrigins) == 0 {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	return s.cfg.DashboardOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// csrfMiddleware applies gorilla/csrf protection to browser-originated
// mutating requests and exempts Bearer-authenticated requests (spec §4.6:
// "Bearer-authenticated requests are exempt after the Bearer is validated").
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	if s.cfg.CSRFKey == "" {
		return next
	}
	protected := csrf.Protect([]byte(s.cfg.CSRFKey), csrf.Path("/"), csrf.Secure(false))(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// perAgentLimiter hands out a token-bucket limiter per agent id so one
// agent's heartbeat cadence cannot starve another's (spec §5).
type perAgentLimiter struct {
	ratePerSecond float64
	limiters      map[string]*rate.Limiter
}

func newPerAgentLimiter(ratePerSecond float64) *perAgentLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	return &perAgentLimiter{ratePerSecond: ratePerSecond, limiters: make(map[string]*rate.Limiter)}
}

func (p *perAgentLimiter) allow(agentID string) bool {
	l, ok := p.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.ratePerSecond), 1)
		p.limiters[agentID] = l
	}
	return l.Allow()
}
