// Package runtime wires configuration, stores, the chain client, and the
// HTTP surface into a runnable gateway process.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	app "github.com/R3E-Network/settlement_engine/internal/app"
	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/httpapi"
	"github.com/R3E-Network/settlement_engine/internal/app/metrics"
	"github.com/R3E-Network/settlement_engine/internal/app/storage/postgres"
	"github.com/R3E-Network/settlement_engine/internal/config"
	"github.com/R3E-Network/settlement_engine/internal/middleware"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	closers    []func() error
}

// NewApplication constructs a gateway instance from the environment
// configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newWithConfig(cfg)
}

func newWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	var closers []func() error

	stores := app.Stores{}
	if cfg.Database.Host != "" {
		db, err := postgres.Open(cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, db.Close)
		if err := postgres.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Listings:       store,
			CollectionBids: store,
			TokenBids:      store,
			Collections:    store,
		}
		log.Info("postgres stores enabled")
	} else {
		log.Warn("no database configured; running on in-memory stores")
	}

	var registry chain.Registry
	if cfg.Chain.RPCURL != "" {
		client, err := chain.NewClient(chain.Config{RPCURL: cfg.Chain.RPCURL, Timeout: cfg.Chain.Timeout})
		if err != nil {
			return nil, fmt.Errorf("chain client: %w", err)
		}
		registry = chain.NewNEP11Registry(client, cfg.Chain.EngineAddress)
	} else {
		log.Warn("no chain RPC configured; using in-memory asset contracts")
		registry = chain.NewFakeRegistry()
	}

	application, err := app.New(cfg, stores, registry, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	if cfg.Events.RedisAddr != "" {
		sink, err := events.NewRedisSink(cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		application.Bus.AddSink(sink)
		closers = append(closers, sink.Close)
		log.WithField("channel", cfg.Events.RedisChannel).Info("redis event sink enabled")
	}

	a := &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		closers: closers,
	}
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.buildHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// buildHandler assembles the middleware stack. /healthz and /metrics stay
// outside authentication; everything else requires a caller identity.
func (a *Application) buildHandler() http.Handler {
	auth := middleware.NewAuthenticator(a.cfg.Market.APIKeys, a.cfg.Market.JWTSecret, a.log)
	rl := middleware.NewRateLimiter(int(a.cfg.Server.RateLimitPerSec), a.cfg.Server.RateLimitBurst, a.log)
	cors := middleware.NewCORSMiddleware([]string{"*"})

	api := httpapi.New(a.app, a.log)

	root := chi.NewRouter()
	root.Get("/healthz", a.healthz)
	root.Method(http.MethodGet, "/metrics", metrics.Handler())
	root.Mount("/", auth.Handler(rl.Handler(api.Routes())))

	return metrics.InstrumentHandler(cors.Handler(root))
}

// healthz reports process liveness plus the latest escrow audit outcome. A
// failed conservation check degrades the endpoint until a clean check runs.
func (a *Application) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := a.app.Auditor.LastError(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "audit": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Run starts the services and the HTTP server and blocks until the context
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("gateway listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the services, and every
// attached resource.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.log.WithError(err).Warn("error closing resource")
		}
	}
	return nil
}
