// Package vehicles serves live vehicle positions and the websocket streams
// that keep dispatch views current.
package vehicles

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/dispatchsync/api/respond"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

// Options configures a Handler.
type Options struct {
	Freshness projection.Freshness
	// Keepalive is the websocket ping period.
	Keepalive time.Duration
	// AllowedOrigins lists the origins allowed to open a stream. Empty
	// allows same origin requests only.
	AllowedOrigins []string
	// Subscribe applies to every snapshot key a stream follows.
	Subscribe snapshot.SubscribeOptions
}

// Handler exposes vehicle positions over HTTP and websocket.
type Handler struct {
	store    *snapshot.Store
	channel  *telemetry.Channel
	opts     Options
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewHandler creates a Handler. channel may be nil when live telemetry is
// disabled; positions then come from snapshots only.
func NewHandler(store *snapshot.Store, channel *telemetry.Channel, opts Options, log logger.Logger) *Handler {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	h := &Handler{store: store, channel: channel, opts: opts, log: logger.OrNop(log)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes mounts the REST endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/vehicles/{id}/position", h.getPosition)
}

// StreamRoutes mounts the websocket endpoints on r.
func (h *Handler) StreamRoutes(r chi.Router) {
	r.Get("/vehicles/{id}", h.streamVehicle)
	r.Get("/board", h.streamBoard)
}

// Position is the effective position of a vehicle.
type Position struct {
	VehicleID string                    `json:"vehicleId"`
	Position  model.Position            `json:"position"`
	Source    projection.PositionSource `json:"source"`
	Load      float64                   `json:"load"`
	Sample    *model.TelemetrySample    `json:"sample,omitempty"`
}

// effective combines the persisted vehicle with the live sample, if any.
func (h *Handler) effective(v model.Vehicle, sample *model.TelemetrySample) Position {
	pos, src := projection.EffectivePosition(v, sample, h.opts.Freshness)
	out := Position{VehicleID: v.ID, Position: pos, Source: src, Load: v.CurrentLoad}
	if src == projection.FromTelemetry {
		out.Load = sample.Load
		out.Sample = sample
	}
	return out
}

func (h *Handler) latest(vehicleID string) *model.TelemetrySample {
	if h.channel == nil {
		return nil
	}
	if s, ok := h.channel.Latest(vehicleID); ok {
		return &s
	}
	return nil
}

func (h *Handler) getPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := snapshot.LoadAs[model.Vehicle](r.Context(), h.store, backend.VehicleKey(id))
	if err != nil {
		respond.Err(w, err)
		return
	}
	respond.OK(w, h.effective(v, h.latest(id)))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	if len(h.opts.AllowedOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	return false
}
