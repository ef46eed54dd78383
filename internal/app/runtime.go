// Package app wires storage, the bridge, the coordinator and the HTTP API
// into a running process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"raidline/internal/auth"
	"raidline/internal/bridge"
	"raidline/internal/config"
	"raidline/internal/db"
	"raidline/internal/migrate"
	"raidline/internal/raid"
	"raidline/internal/repo"
	"raidline/internal/server"
)

const shutdownTimeout = 10 * time.Second

// OpenStore opens the workspace database and brings its schema up to date.
func OpenStore(ctx context.Context, workspace string) (*sql.DB, repo.Repo, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, repo.Repo{}, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, repo.Repo{}, err
	}
	return conn, repo.Repo{DB: conn}, nil
}

// Runtime is a fully wired raidline process.
type Runtime struct {
	Config      *config.Config
	DB          *sql.DB
	Repo        repo.Repo
	Hub         *bridge.Hub
	Bridge      *bridge.Client
	Dialogs     *bridge.Dialogs
	Coordinator *raid.Coordinator
	Registry    *prometheus.Registry
	Logger      *slog.Logger
}

// Open prepares a Runtime: the store is migrated and records left closed
// by an interrupted shutdown are purged. Events are not resumed yet.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	conn, r, err := OpenStore(ctx, workspace)
	if err != nil {
		return nil, err
	}
	purged, err := r.PurgeClosedEventRecords(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("purge closed events: %w", err)
	}
	if purged > 0 {
		log.Info("purged closed event records", "count", purged)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := bridge.NewHub(log)
	client := bridge.New(cfg.Bridge, hub, log)
	dialogs := bridge.NewDialogs(client)
	coord := raid.New(raid.Deps{
		Config:   cfg,
		Surface:  client,
		Store:    r,
		Auth:     auth.Service{DB: conn, AdminRoles: cfg.Auth.AdminRoles},
		Prompter: dialogs,
		Logger:   log,
		Metrics:  raid.NewMetrics(reg),
	})
	return &Runtime{
		Config:      cfg,
		DB:          conn,
		Repo:        r,
		Hub:         hub,
		Bridge:      client,
		Dialogs:     dialogs,
		Coordinator: coord,
		Registry:    reg,
		Logger:      log,
	}, nil
}

// Resume takes over the events a previous process left open.
func (rt *Runtime) Resume(ctx context.Context) (int, error) {
	n, err := rt.Coordinator.Resume(ctx)
	if err != nil {
		return n, err
	}
	rt.Logger.Info("resumed events", "count", n)
	return n, nil
}

// Handler builds the control API.
func (rt *Runtime) Handler(jwtSecret string) (http.Handler, error) {
	return server.New(server.Config{
		Coordinator: rt.Coordinator,
		Repo:        rt.Repo,
		Hub:         rt.Hub,
		Dialogs:     rt.Dialogs,
		Gatherer:    rt.Registry,
		BasePath:    rt.Config.Server.BasePath,
		Auth:        server.AuthConfig{JWTSecret: jwtSecret, Logger: rt.Logger},
		Logger:      rt.Logger,
	})
}

// Serve runs the control API on addr until ctx is done, then shuts the
// server down and stops the coordinator.
func (rt *Runtime) Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		rt.Coordinator.Shutdown()
		return err
	})
	return g.Wait()
}

// Close stops the coordinator and closes the database.
func (rt *Runtime) Close() error {
	rt.Coordinator.Shutdown()
	return rt.DB.Close()
}
