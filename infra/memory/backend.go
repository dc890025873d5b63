// Package memory is an in-process implementation of the dispatch backend.
// It keeps every entity in maps and replaces the route optimizer with a
// greedy nearest-neighbour assignment.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
)

// Backend implements backend.Backend.
type Backend struct {
	mu         sync.Mutex
	dispatches map[string]model.Dispatch
	routes     map[string]model.Route
	orders     map[string]model.Order
	vehicles   map[string]model.Vehicle
	depots     map[string]model.Depot

	failNext error
	reads    int
	writes   int

	Now   func() time.Time
	NewID func() string
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		dispatches: make(map[string]model.Dispatch),
		routes:     make(map[string]model.Route),
		orders:     make(map[string]model.Order),
		vehicles:   make(map[string]model.Vehicle),
		depots:     make(map[string]model.Depot),
		Now:        time.Now,
		NewID:      uuid.NewString,
	}
}

var _ backend.Backend = (*Backend)(nil)

func appError(format string, args ...any) error {
	return &backend.AppError{Code: backend.CodeError, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, backend.ErrNotFound)
}

// AddVehicle stores or replaces v.
func (b *Backend) AddVehicle(v model.Vehicle) {
	b.mu.Lock()
	b.vehicles[v.ID] = v
	b.mu.Unlock()
}

// AddDepot stores or replaces d.
func (b *Backend) AddDepot(d model.Depot) {
	b.mu.Lock()
	b.depots[d.ID] = d
	b.mu.Unlock()
}

// AddOrder stores or replaces o as is.
func (b *Backend) AddOrder(o model.Order) {
	b.mu.Lock()
	b.orders[o.ID] = o
	b.mu.Unlock()
}

// AddDispatch stores d and its routes; the orders of each route are stored
// with their route id and index set.
func (b *Backend) AddDispatch(d model.Dispatch, routes ...model.Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatches[d.ID] = d
	for _, r := range routes {
		r.DispatchID = d.ID
		for i, o := range r.Orders {
			rid := r.ID
			idx := i
			o.RouteID = &rid
			if o.Index == nil {
				o.Index = &idx
			}
			b.orders[o.ID] = o
		}
		r.Orders = nil
		b.routes[r.ID] = r
	}
}

// FailNext makes the next write return err.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// Reads returns the number of read calls served.
func (b *Backend) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Writes returns the number of write calls received, failed ones included.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// beginWrite must be called with b.mu held.
func (b *Backend) beginWrite(ctx context.Context) error {
	b.writes++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.failNext; err != nil {
		b.failNext = nil
		return err
	}
	return nil
}

func (b *Backend) beginRead(ctx context.Context) error {
	b.reads++
	return ctx.Err()
}

// routeLocked returns r with its orders sorted by stop index.
func (b *Backend) routeLocked(r model.Route) model.Route {
	var orders []model.Order
	for _, o := range b.orders {
		if o.RouteID != nil && *o.RouteID == r.ID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		a, c := orders[i].Index, orders[j].Index
		if a != nil && c != nil && *a != *c {
			return *a < *c
		}
		if (a == nil) != (c == nil) {
			return a != nil
		}
		return orders[i].ID < orders[j].ID
	})
	r.Orders = orders
	r.Coordinates = make([]model.Position, 0, len(orders))
	for _, o := range orders {
		r.Coordinates = append(r.Coordinates, o.Position())
	}
	return r
}

func (b *Backend) routesLocked(match func(model.Route) bool) []model.Route {
	out := []model.Route{}
	for _, r := range b.routes {
		if match(r) {
			out = append(out, b.routeLocked(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) ordersLocked(match func(model.Order) bool) []model.Order {
	out := []model.Order{}
	for _, o := range b.orders {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) currentLocked() *model.Dispatch {
	for _, d := range b.dispatches {
		if d.IsActive() {
			d := d
			return &d
		}
	}
	return nil
}

// LatestDispatch returns the most recently created dispatch, if any.
func (b *Backend) LatestDispatch() *model.Dispatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	var latest *model.Dispatch
	for _, d := range b.dispatches {
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) ||
			(d.CreatedAt.Equal(latest.CreatedAt) && d.IsActive() && !latest.IsActive()) {
			d := d
			latest = &d
		}
	}
	return latest
}
