// Package api assembles the HTTP surface of the live dispatch view.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/dispatchsync/api/dispatch"
	"github.com/kilianp07/dispatchsync/api/vehicles"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
)

// Deps are the handlers and stores the router serves.
type Deps struct {
	Dispatch *dispatch.Handler
	Vehicles *vehicles.Handler
	// Audit and AuditToken enable GET /api/mutations/log when both are set.
	Audit      audit.Store
	AuditToken string
}

// NewRouter mounts the REST endpoints under /api and the streams under /ws.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/api", func(r chi.Router) {
		if d.Dispatch != nil {
			d.Dispatch.Routes(r)
		}
		if d.Vehicles != nil {
			d.Vehicles.Routes(r)
		}
		if d.Audit != nil && d.AuditToken != "" {
			r.Method(http.MethodGet, "/mutations/log", dispatch.NewLogHandler(d.Audit, d.AuditToken))
		}
	})
	if d.Vehicles != nil {
		r.Route("/ws", d.Vehicles.StreamRoutes)
	}
	return r
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("api server shutdown: %v", err)
		}
	}()
	log.Infof("api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
