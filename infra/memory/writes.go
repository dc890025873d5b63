package memory

import (
	"context"
	"io"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
)

// averageSpeedKmh converts planned distances into durations.
const averageSpeedKmh = 25.0

func (b *Backend) CreateDispatch(ctx context.Context) (model.Dispatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return model.Dispatch{}, err
	}
	if cur := b.currentLocked(); cur != nil {
		return model.Dispatch{}, appError("dispatch %s is still in progress", cur.ID)
	}
	d := model.Dispatch{ID: b.NewID(), Status: model.DispatchInProgress, CreatedAt: b.Now()}
	if err := b.assignPendingLocked(d.ID); err != nil {
		return model.Dispatch{}, err
	}
	b.dispatches[d.ID] = d
	return d, nil
}

// RerouteDispatch plans the orders still pending into new routes of the
// dispatch. Routes already in progress are left as they are.
func (b *Backend) RerouteDispatch(ctx context.Context, dispatchID string) (model.Dispatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return model.Dispatch{}, err
	}
	d, ok := b.dispatches[dispatchID]
	if !ok {
		return model.Dispatch{}, notFound("dispatch", dispatchID)
	}
	if !d.IsActive() {
		return model.Dispatch{}, appError("dispatch %s is completed", dispatchID)
	}
	if len(b.ordersLocked(isPending)) == 0 {
		return d, nil
	}
	if err := b.assignPendingLocked(d.ID); err != nil {
		return model.Dispatch{}, err
	}
	return d, nil
}

func isPending(o model.Order) bool { return o.Status == model.OrderPending }

func (b *Backend) assignPendingLocked(dispatchID string) error {
	pending := b.ordersLocked(isPending)
	if len(pending) == 0 {
		return appError("no pending orders")
	}
	vehicles := make([]model.Vehicle, 0, len(b.vehicles))
	for _, v := range b.vehicles {
		vehicles = append(vehicles, v)
	}
	plans := plan(pending, vehicles, b.depots)
	if len(plans) == 0 {
		return appError("no vehicle can take the pending orders")
	}
	for _, p := range plans {
		r := model.Route{
			ID:         b.NewID(),
			DispatchID: dispatchID,
			VehicleID:  p.vehicle.ID,
			Status:     model.RouteInProgress,
		}
		start := p.vehicle.Position()
		if d, ok := b.depots[p.vehicle.DepotID]; ok {
			start = d.Position()
		}
		r.Distance = pathLength(start, p.orders)
		r.Duration = r.Distance / averageSpeedKmh * 3600
		b.routes[r.ID] = r
		for i, o := range p.orders {
			rid, idx := r.ID, i
			o.RouteID = &rid
			o.Index = &idx
			o.Status = model.OrderInProgress
			b.orders[o.ID] = o
		}
	}
	return nil
}

// MarkOrderDone completes an order. Completing it again is accepted and
// leaves the first completion time.
func (b *Backend) MarkOrderDone(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return notFound("order", orderID)
	}
	switch o.Status {
	case model.OrderCompleted:
		return nil
	case model.OrderInProgress:
	default:
		return appError("order %s is %s", orderID, o.Status)
	}
	now := b.Now()
	o.Status = model.OrderCompleted
	o.CompletedAt = &now
	b.orders[orderID] = o
	return nil
}

func (b *Backend) MarkRouteDone(ctx context.Context, routeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return err
	}
	r, ok := b.routes[routeID]
	if !ok {
		return notFound("route", routeID)
	}
	full := b.routeLocked(r)
	if len(full.Orders) == 0 || full.CompletedOrders() != len(full.Orders) {
		return appError("route %s has %d of %d orders completed", routeID, full.CompletedOrders(), len(full.Orders))
	}
	r.Status = model.RouteCompleted
	b.routes[routeID] = r
	return nil
}

func (b *Backend) MarkDispatchDone(ctx context.Context, dispatchID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return err
	}
	d, ok := b.dispatches[dispatchID]
	if !ok {
		return notFound("dispatch", dispatchID)
	}
	for _, r := range b.routes {
		if r.DispatchID == dispatchID && r.Status != model.RouteCompleted {
			return appError("route %s of dispatch %s is not completed", r.ID, dispatchID)
		}
	}
	if !d.IsActive() {
		return nil
	}
	now := b.Now()
	d.Status = model.DispatchCompleted
	d.CompletedAt = &now
	b.dispatches[dispatchID] = d
	return nil
}

func (b *Backend) CreateOrder(ctx context.Context, in backend.OrderInput) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return model.Order{}, err
	}
	o := model.Order{ID: b.NewID(), Status: model.OrderPending}
	if err := applyInput(&o, in); err != nil {
		return model.Order{}, err
	}
	b.orders[o.ID] = o
	return o, nil
}

func (b *Backend) UpdateOrder(ctx context.Context, id string, in backend.OrderInput) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginWrite(ctx); err != nil {
		return model.Order{}, err
	}
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, notFound("order", id)
	}
	if o.Status != model.OrderPending {
		return model.Order{}, appError("order %s is %s", id, o.Status)
	}
	if err := applyInput(&o, in); err != nil {
		return model.Order{}, err
	}
	b.orders[id] = o
	return o, nil
}

func applyInput(o *model.Order, in backend.OrderInput) error {
	o.UserID = in.UserID
	o.Latitude = in.Latitude
	o.Longitude = in.Longitude
	o.Weight = in.Weight
	o.Category = in.Category
	if in.Image != nil {
		if in.Image.Data != nil {
			if _, err := io.Copy(io.Discard, in.Image.Data); err != nil {
				return err
			}
		}
		o.ImageURL = "memory://images/" + o.ID + "/" + in.Image.Filename
	}
	return nil
}
