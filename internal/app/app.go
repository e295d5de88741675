// Package app is the controller's composition root: it wires config,
// storage, the event bus, the agent manager/sweeper, the quick-test
// dispatcher, the campaign launcher, metrics and the HTTP server into one
// object cmd/kittd can Start/Stop, grounded on the teacher's
// internal/app.Application wiring shape (a single struct assembled in New,
// exposing Start/Stop and a Handler for the HTTP listener).
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kitt-bench/controller/internal/agentmgr"
	"github.com/kitt-bench/controller/internal/campaign"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/config"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/httpapi"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/internal/storage/memory"
	"github.com/kitt-bench/controller/internal/storage/sqlstore"
	"github.com/kitt-bench/controller/internal/system"
	"github.com/kitt-bench/controller/pkg/logger"
)

// Version is the controller build version, surfaced on the service-info
// metric and the health endpoint. Overridden at link time in release
// builds; "dev" is correct for a local/test build.
var Version = "dev"

// Application owns every long-lived collaborator and the system.Manager
// that starts/stops them in order.
type Application struct {
	Config  *config.Config
	Log     *logger.Logger
	Store   storage.Store
	Bus     *eventbus.Bus
	Relay   *eventbus.RedisRelay
	Agents  *agentmgr.Manager
	Sweeper *agentmgr.Sweeper
	Engines *catalog.EngineRegistry
	Quick   *quicktest.Dispatcher
	Camps   *campaign.Launcher
	Metrics *metrics.Metrics
	HTTP    *httpapi.Server

	manager *system.Manager
}

// New assembles every collaborator from cfg but does not start anything;
// call Start to bring the system up.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging, cfg.Home, "kittd")

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	bus := eventbus.New(store)

	var relay *eventbus.RedisRelay
	if cfg.Redis.Addr != "" {
		relay = eventbus.NewRedisRelay(bus, cfg.Redis.Addr, log)
		bus.SetRelay(relay)
	}

	m := metrics.New("kittd", Version)

	engines := catalog.NewEngineRegistry()
	benchmarks := catalog.NewBenchmarkRegistry()
	agents := agentmgr.New(store, log, cfg.Agent.DefaultHeartbeatIntervalS)
	sweeper := agentmgr.NewSweeper(agents, 10*time.Second, log)

	quick := quicktest.New(store, bus, engines, benchmarks, agents, log)
	quick.SetMetrics(m)

	manager := system.NewManager()
	camps := campaign.NewLauncher(store, bus, engines, quick, agents, manager, log)
	camps.SetMetrics(m)

	httpSrv := httpapi.New(httpapi.Config{
		AdminToken:             cfg.Auth.AdminToken,
		RegisterToken:          cfg.Auth.RegisterToken,
		CSRFKey:                cfg.Auth.CSRFKey,
		HeartbeatRatePerSecond: 5,
	}, store, bus, agents, quick, camps, engines, m, log)

	application := &Application{
		Config: cfg, Log: log, Store: store, Bus: bus, Relay: relay,
		Agents: agents, Sweeper: sweeper, Engines: engines, Quick: quick,
		Camps: camps, Metrics: m, HTTP: httpSrv, manager: manager,
	}

	for _, svc := range []system.Service{sweeper, camps} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", svc.Name(), err)
		}
	}

	return application, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return sqlstore.NewPostgres(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.MigrateOnStart)
	case "memory":
		return memory.New(), nil
	default:
		return sqlstore.NewSQLite(cfg.DSNOrDefault(), cfg.Database.MigrateOnStart)
	}
}

// Start brings up every registered background service (sweeper, cron
// launcher). The HTTP server is served separately by the caller via
// Handler, so its lifecycle can be tied to a net/http.Server for graceful
// shutdown.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts down every registered service, including any campaigns
// attached after Start.
func (a *Application) Stop(ctx context.Context) error {
	if a.Relay != nil {
		_ = a.Relay.Stop()
	}
	if err := a.manager.Stop(ctx); err != nil {
		return err
	}
	return a.Store.Close()
}

// Handler returns the root HTTP handler to serve.
func (a *Application) Handler() http.Handler {
	return a.HTTP.Handler()
}
