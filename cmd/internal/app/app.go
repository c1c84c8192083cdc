// Package app wires the Courier server runtime: config, logging, HTTP routes,
// persistence, blob storage, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/api"
	"courier/cmd/internal/blob"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Courier server runtime: it owns HTTP wiring and the service graph.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	rest *api.Handler
	ws   *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	st, dbPool, dbEnabled, userStore, chatStore, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	chatSvc := chat.NewService(log, chatStore)

	uploader, err := newUploader(context.Background(), log)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	// One delivery router serves both ingresses: REST sends and live-channel
	// sends push to the same registry of joined receivers.
	registry := realtime.NewRegistry(log)
	router := realtime.NewRouter(log, registry, chatSvc)

	rest := api.NewHandler(log, userStore, chatSvc, router, uploader)
	ws := realtime.NewWSGateway(log, router)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		rest:      rest,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	handler := newRouter(a.log, a.cfg, a.dbPool, a.dbEnabled, a.rest, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
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

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
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

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, identity.Store, chat.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, identity.NewMemoryStore(), chat.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - store Close() methods are no-ops
	userStore, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	chatStore, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool, users: userStore, chat: chatStore}, pool, true, userStore, chatStore, nil
}

// newUploader picks the blob backend: S3 when a bucket is configured,
// in-memory otherwise (dev mode, objects do not survive restarts).
func newUploader(ctx context.Context, log Logger) (blob.Uploader, error) {
	s3cfg, ok := blob.LoadS3ConfigFromEnv()
	if !ok {
		log.Info("blob.disabled.inmemory_uploader")
		return blob.NewMemoryUploader(), nil
	}

	up, err := blob.NewS3Uploader(ctx, log, s3cfg)
	if err != nil {
		return nil, err
	}
	log.Info("blob.enabled.s3", "bucket", s3cfg.Bucket, "region", s3cfg.Region)
	return up, nil
}

type dbStore struct {
	pool  *pgxpool.Pool
	users identity.Store
	chat  chat.Store
}

func (s dbStore) Close(_ context.Context) error {
	if s.users != nil {
		_ = s.users.Close()
	}
	if s.chat != nil {
		_ = s.chat.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
