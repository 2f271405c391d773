// Package api implements the daemon's JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/internal/realtime"
	"github.com/patrickspencer/hydranotify/internal/store"
)

// Store is the part of the status store the API reads.
type Store interface {
	ListStatuses(ctx context.Context) ([]store.JobStatus, error)
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	Ping(ctx context.Context) error
}

// API holds dependencies for all API handlers.
type API struct {
	Store      Store
	Events     *realtime.Broker
	TriggerRun func() bool
	Running    func() bool
	NextRun    func() time.Time
	Logger     *zap.SugaredLogger
}

// RegisterRoutes mounts all API routes under /api/v1.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", a.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/health", a.handleHealth)
			r.Get("/statuses", a.handleListStatuses)
			r.Get("/runs", a.handleListRuns)
			r.Get("/runs/{id}", a.handleGetRun)
			r.Post("/check", a.handleCheck)
		})
	})
}

func (a *API) log() *zap.SugaredLogger {
	if a.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return a.Logger
}

// writeJSON writes a JSON response with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log().Errorw("api: failed to write JSON response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
