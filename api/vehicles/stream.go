package vehicles

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/view"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

const writeWait = 10 * time.Second

// Message is one frame sent on a stream.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Frame types.
const (
	TypePosition = "position"
	TypeBoard    = "board"
	TypeError    = "error"
)

// streamVehicle pushes the effective position of one vehicle whenever its
// snapshot or its telemetry changes. Closing the socket releases both.
func (h *Handler) streamVehicle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade for vehicle %s: %v", id, err)
		return
	}
	v := view.New(r.Context(), h.store, h.channel, h.log)
	defer v.Close()

	updates := eventbus.NewLatest[Message]()
	defer updates.Close()

	st := &positionState{h: h, out: updates}
	if _, err := v.Watch(backend.VehicleKey(id), func(res snapshot.Result) {
		if res.IsError && !res.HasValue {
			updates.Offer(Message{Type: TypeError, Data: res.Err.Error()})
			return
		}
		if veh, ok := snapshot.As[model.Vehicle](res); ok {
			st.setVehicle(veh)
		}
	}, h.opts.Subscribe); err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	if h.channel != nil {
		if _, err := v.Track(id, st.setSample); err != nil {
			h.log.Warnf("track vehicle %s: %v", id, err)
		}
	}
	h.pump(v.Context(), conn, updates)
}

// positionState merges snapshot and telemetry updates of one vehicle.
type positionState struct {
	h   *Handler
	out *eventbus.Latest[Message]

	mu      sync.Mutex
	vehicle *model.Vehicle
	sample  *model.TelemetrySample
}

func (p *positionState) setVehicle(v model.Vehicle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vehicle = &v
	p.publishLocked()
}

func (p *positionState) setSample(s model.TelemetrySample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sample = &s
	p.publishLocked()
}

// publishLocked waits for the vehicle snapshot before sending anything.
func (p *positionState) publishLocked() {
	if p.vehicle == nil {
		return
	}
	p.out.Offer(Message{Type: TypePosition, Data: p.h.effective(*p.vehicle, p.sample)})
}

// streamBoard pushes the dispatch board every time it is recomputed.
func (h *Handler) streamBoard(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade for board: %v", err)
		return
	}
	v := view.New(r.Context(), h.store, h.channel, h.log)
	defer v.Close()

	updates := eventbus.NewLatest[Message]()
	defer updates.Close()
	if _, err := view.NewBoard(v, view.BoardOptions{
		Freshness: h.opts.Freshness,
		Subscribe: h.opts.Subscribe,
		OnChange:  func(b projection.Board) { updates.Offer(Message{Type: TypeBoard, Data: b}) },
	}); err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	h.pump(v.Context(), conn, updates)
}

// pump writes the newest pending message until ctx ends or the peer goes
// away. Intermediate updates that were never written are dropped.
func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, updates *eventbus.Latest[Message]) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait := 2 * h.opts.Keepalive
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.opts.Keepalive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseNormalClosure, "")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-updates.Ready():
			msg, ok := updates.Take()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debugf("websocket write: %v", err)
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = conn.Close()
}
