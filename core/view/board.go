package view

import (
	"context"
	"sync"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// BoardOptions configures a Board.
type BoardOptions struct {
	Freshness projection.Freshness
	// Subscribe applies to every key the board follows.
	Subscribe snapshot.SubscribeOptions
	// OnChange receives the recomputed board after any input changed.
	OnChange func(projection.Board)
}

// Board keeps the current dispatch board up to date. It follows the current
// dispatch, its routes, the vehicles and depots of those routes and the live
// telemetry of the vehicles, and re-points those subscriptions when the
// dispatch or its routes change.
type Board struct {
	view *View
	opts BoardOptions

	dirty *eventbus.Latest[struct{}]
	done  chan struct{}

	// Owned by the reconcile goroutine.
	dispatchID string
	routesSub  *snapshot.Subscription
	vehicles   map[string]*snapshot.Subscription
	depots     map[string]*snapshot.Subscription
	tracked    map[string]*telemetry.Handle

	mu      sync.Mutex
	current projection.Board
}

// NewBoard starts a board inside v. The board stops when v closes.
func NewBoard(v *View, opts BoardOptions) (*Board, error) {
	b := &Board{
		view:     v,
		opts:     opts,
		dirty:    eventbus.NewLatest[struct{}](),
		done:     make(chan struct{}),
		vehicles: make(map[string]*snapshot.Subscription),
		depots:   make(map[string]*snapshot.Subscription),
		tracked:  make(map[string]*telemetry.Handle),
	}
	if _, err := v.Watch(backend.CurrentDispatchKey(), b.touch, opts.Subscribe); err != nil {
		return nil, err
	}
	if err := v.Go("board", b.loop); err != nil {
		return nil, err
	}
	b.touch(snapshot.Result{})
	return b, nil
}

func (b *Board) touch(snapshot.Result)             { b.dirty.Offer(struct{}{}) }
func (b *Board) touchSample(model.TelemetrySample) { b.dirty.Offer(struct{}{}) }

// Current returns the last computed board.
func (b *Board) Current() projection.Board {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Done is closed when the board stopped following changes.
func (b *Board) Done() <-chan struct{} { return b.done }

func (b *Board) loop(ctx context.Context) error {
	defer close(b.done)
	defer b.dirty.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.dirty.Ready():
		}
		if _, ok := b.dirty.Take(); !ok {
			continue
		}
		board := b.reconcile()
		b.mu.Lock()
		b.current = board
		b.mu.Unlock()
		if b.opts.OnChange != nil {
			b.opts.OnChange(board)
		}
	}
}

// reconcile aligns the followed keys with the cached state and rebuilds the
// board from it.
func (b *Board) reconcile() projection.Board {
	store := b.view.store
	cur, _ := snapshot.As[*model.Dispatch](store.Get(backend.CurrentDispatchKey()))

	id := ""
	if cur != nil && cur.IsActive() {
		id = cur.ID
	}
	if id != b.dispatchID {
		if b.routesSub != nil {
			b.view.Unwatch(b.routesSub)
			b.routesSub = nil
		}
		b.dispatchID = id
		if id != "" {
			b.routesSub, _ = b.view.Watch(backend.DispatchRoutesKey(id), b.touch, b.opts.Subscribe)
		}
	}

	var routes []model.Route
	if b.routesSub != nil {
		routes, _ = snapshot.As[[]model.Route](b.routesSub.Current())
	}

	wantVehicles := make(map[string]bool)
	for _, r := range routes {
		wantVehicles[r.VehicleID] = true
	}
	for vid, sub := range b.vehicles {
		if !wantVehicles[vid] {
			b.view.Unwatch(sub)
			delete(b.vehicles, vid)
			if h, ok := b.tracked[vid]; ok {
				b.view.Untrack(h)
				delete(b.tracked, vid)
			}
		}
	}

	in := projection.BoardInput{
		Dispatch:  cur,
		Routes:    routes,
		Vehicles:  make(map[string]model.Vehicle),
		Depots:    make(map[string]model.Depot),
		Telemetry: make(map[string]model.TelemetrySample),
		Freshness: b.opts.Freshness,
	}
	wantDepots := make(map[string]bool)
	for vid := range wantVehicles {
		if _, ok := b.vehicles[vid]; !ok {
			if sub, err := b.view.Watch(backend.VehicleKey(vid), b.touch, b.opts.Subscribe); err == nil {
				b.vehicles[vid] = sub
			}
		}
		if _, ok := b.tracked[vid]; !ok && b.view.channel != nil {
			if h, err := b.view.Track(vid, b.touchSample); err == nil {
				b.tracked[vid] = h
			}
		}
		if sub, ok := b.vehicles[vid]; ok {
			if v, ok := snapshot.As[model.Vehicle](sub.Current()); ok {
				in.Vehicles[vid] = v
				if v.DepotID != "" {
					wantDepots[v.DepotID] = true
				}
			}
		}
		if s, ok := b.view.Latest(vid); ok {
			in.Telemetry[vid] = s
		}
	}

	for did, sub := range b.depots {
		if !wantDepots[did] {
			b.view.Unwatch(sub)
			delete(b.depots, did)
		}
	}
	for did := range wantDepots {
		sub, ok := b.depots[did]
		if !ok {
			var err error
			if sub, err = b.view.Watch(backend.DepotKey(did), b.touch, b.opts.Subscribe); err != nil {
				continue
			}
			b.depots[did] = sub
		}
		if d, ok := snapshot.As[model.Depot](sub.Current()); ok {
			in.Depots[did] = d
		}
	}
	return projection.BuildBoard(in)
}
