// Package api serves the catalog, scan history and duplicate report over
// HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/dupecat/internal/api/handlers"
	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/config"
	"github.com/eargollo/dupecat/internal/scan"
	"github.com/eargollo/dupecat/internal/scheduler"
)

// Deps are the services the handlers read from and drive.
type Deps struct {
	Store   catalog.Store
	History *scan.History
	Config  *config.Config
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
	// BaseCtx bounds scans started over HTTP; it should outlive requests.
	BaseCtx context.Context
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// NewRouter wires all routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	statusH := &handlers.StatusHandler{Store: d.Store, History: d.History, Manager: d.Manager, Sched: d.Sched, Version: d.Version}
	scansH := &handlers.ScansHandler{History: d.History, Manager: d.Manager, BaseCtx: d.BaseCtx}
	groupsH := &handlers.GroupsHandler{Store: d.Store, Manager: d.Manager}
	filesH := &handlers.FilesHandler{Store: d.Store, Manager: d.Manager}
	reportH := &handlers.ReportHandler{Store: d.Store, Manager: d.Manager}
	statsH := &handlers.StatsHandler{Store: d.Store, Manager: d.Manager}
	configH := &handlers.ConfigHandler{Cfg: d.Config, Manager: d.Manager, Sched: d.Sched, BaseCtx: d.BaseCtx}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Delete("/scans/current", scansH.Cancel)
		r.Get("/scans/{id}", scansH.Get)

		r.Get("/groups", groupsH.List)
		r.Get("/groups/{checksum}", groupsH.Get)

		r.Get("/files", filesH.Info)
		r.Get("/files/thumbnail", filesH.Thumbnail)

		r.Get("/report.csv", reportH.ServeHTTP)
		r.Get("/stats", statsH.ServeHTTP)

		r.Get("/config", configH.Get)
		r.Patch("/config", configH.Update)
	})
	return r
}

// New returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
