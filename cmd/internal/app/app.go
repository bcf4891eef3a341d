// Package app wires the Beacon server runtime: config, logging, HTTP routes,
// and the presence WebSocket gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"beacon/cmd/internal/auth/credential"
	"beacon/cmd/internal/auth/revocation"
	"beacon/cmd/internal/presence"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the Beacon server runtime: it owns HTTP server wiring, the
// revocation registry lifecycle, and the presence gateway dependencies.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *revocation.Registry
	hub      *presence.Hub
	ws       *presence.WSGateway
}

// New constructs a fully wired App instance from config and logger.
//
// The credential signing configuration is mandatory: a presence server that
// cannot verify credentials must refuse to start rather than run open.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	credCfg, err := credential.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	validator, err := credential.NewValidator(credCfg)
	if err != nil {
		return nil, err
	}

	dbPool, revStore, dbEnabled, err := newRevocationStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := revocation.NewRegistry(log, revStore, revocation.LoadConfigFromEnv())

	hub := presence.NewHub(log)
	dispatch := presence.NewDispatcher(log, hub)
	gate := &credentialGate{validator: validator, registry: registry}
	ws := presence.NewWSGateway(log, hub, dispatch, gate)

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		registry:  registry,
		hub:       hub,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.ws)

	// Periodic denylist sweep; stops with the server context.
	go a.registry.Run(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(mux), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped", "open_sessions", a.hub.Len())
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newRevocationStore decides between a Postgres-backed denylist, for
// deployments that share it with the credential issuer, and the in-memory one.
//
// Ownership model:
// - app owns the pool lifecycle; the store never closes it.
func newRevocationStore(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, revocation.Store, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_denylist")
		return nil, revocation.NewMemoryStore(), false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := revocation.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_denylist")
	return pool, store, true, nil
}
