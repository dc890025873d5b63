// Package dispatch serves the dispatch board and the mutation endpoints.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/dispatchsync/api/respond"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/mutation"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
)

const maxUploadBytes = 10 << 20

// BoardSource returns the current dispatch board.
type BoardSource interface {
	Current() projection.Board
}

// Handler exposes the board and the mutation coordinator over HTTP.
type Handler struct {
	board BoardSource
	store *snapshot.Store
	coord *mutation.Coordinator
	log   logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(board BoardSource, store *snapshot.Store, coord *mutation.Coordinator, log logger.Logger) *Handler {
	return &Handler{board: board, store: store, coord: coord, log: logger.OrNop(log)}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/board", h.getBoard)
	r.Get("/orders/pending", h.getPendingOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders", h.createOrder)
	r.Put("/orders/{id}", h.updateOrder)
	r.Post("/orders/{id}/done", h.markOrderDone)
	r.Post("/routes/{id}/done", h.markRouteDone)
	r.Post("/dispatches", h.createDispatch)
	r.Post("/dispatches/current/reroute", h.rerouteDispatch)
	r.Post("/dispatches/{id}/done", h.markDispatchDone)
	r.Get("/mutations/pending", h.getPending)
}

func (h *Handler) getBoard(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.board.Current())
}

func (h *Handler) getPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := snapshot.LoadAs[[]model.Order](r.Context(), h.store, backend.PendingOrdersKey())
	if err != nil {
		respond.Err(w, err)
		return
	}
	// The cached slice is shared with every reader of the store.
	orders = slices.Clone(orders)
	projection.SortByStopIndex(orders)
	respond.OK(w, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := backend.CheckID(id); err != nil {
		respond.Err(w, err)
		return
	}
	o, err := snapshot.LoadAs[model.Order](r.Context(), h.store, backend.OrderKey(id))
	if err != nil {
		respond.Err(w, err)
		return
	}
	respond.OK(w, o)
}

func (h *Handler) createDispatch(w http.ResponseWriter, r *http.Request) {
	d, err := h.coord.CreateDispatch(r.Context())
	h.reply(w, "create dispatch", d, err)
}

func (h *Handler) rerouteDispatch(w http.ResponseWriter, r *http.Request) {
	d, err := h.coord.RerouteDispatch(r.Context())
	h.reply(w, "reroute dispatch", d, err)
}

func (h *Handler) markDispatchDone(w http.ResponseWriter, r *http.Request) {
	err := h.coord.MarkDispatchDone(r.Context(), chi.URLParam(r, "id"))
	h.reply(w, "mark dispatch done", nil, err)
}

func (h *Handler) markRouteDone(w http.ResponseWriter, r *http.Request) {
	err := h.coord.MarkRouteDone(r.Context(), chi.URLParam(r, "id"))
	h.reply(w, "mark route done", nil, err)
}

func (h *Handler) markOrderDone(w http.ResponseWriter, r *http.Request) {
	err := h.coord.MarkOrderDone(r.Context(), chi.URLParam(r, "id"))
	h.reply(w, "mark order done", nil, err)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	in, err := decodeOrder(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanupForm(r)
	o, err := h.coord.CreateOrder(r.Context(), in)
	h.reply(w, "create order", o, err)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	in, err := decodeOrder(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanupForm(r)
	o, err := h.coord.UpdateOrder(r.Context(), chi.URLParam(r, "id"), in)
	h.reply(w, "update order", o, err)
}

// getPending reports whether op is running for target, for views that
// disable a control while a mutation is in flight.
func (h *Handler) getPending(w http.ResponseWriter, r *http.Request) {
	op := mutation.Operation(r.URL.Query().Get("op"))
	target := r.URL.Query().Get("target")
	if op == "" {
		respond.Error(w, http.StatusBadRequest, "op is required")
		return
	}
	respond.OK(w, map[string]bool{"pending": h.coord.IsPending(op, target)})
}

func (h *Handler) reply(w http.ResponseWriter, what string, result any, err error) {
	if err != nil {
		status := respond.Status(err)
		if status >= http.StatusInternalServerError {
			h.log.Errorf("%s: %v", what, err)
		}
		respond.Error(w, status, err.Error())
		return
	}
	respond.OK(w, result)
}

type orderRequest struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Weight    float64 `json:"weight"`
	Category  string  `json:"category"`
}

// decodeOrder accepts a JSON body or a multipart form with an optional
// "image" file.
func decodeOrder(r *http.Request) (backend.OrderInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return decodeOrderForm(r)
	}
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return backend.OrderInput{}, fmt.Errorf("invalid body: %w", err)
	}
	return backend.OrderInput{
		UserID: req.UserID, Latitude: req.Latitude, Longitude: req.Longitude,
		Weight: req.Weight, Category: req.Category,
	}, nil
}

func decodeOrderForm(r *http.Request) (backend.OrderInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return backend.OrderInput{}, fmt.Errorf("invalid form: %w", err)
	}
	in := backend.OrderInput{UserID: r.FormValue("userId"), Category: r.FormValue("category")}
	for name, dst := range map[string]*float64{"latitude": &in.Latitude, "longitude": &in.Longitude, "weight": &in.Weight} {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return backend.OrderInput{}, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = f
	}
	file, hdr, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return backend.OrderInput{}, fmt.Errorf("invalid image: %w", err)
	default:
		in.Image = &backend.Attachment{
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Data:        file,
		}
	}
	return in, nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
