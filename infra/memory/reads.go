package memory

import (
	"context"

	"github.com/kilianp07/dispatchsync/core/model"
)

func (b *Backend) CurrentDispatch(ctx context.Context) (*model.Dispatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return nil, err
	}
	return b.currentLocked(), nil
}

func (b *Backend) Dispatch(ctx context.Context, id string) (model.Dispatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return model.Dispatch{}, err
	}
	d, ok := b.dispatches[id]
	if !ok {
		return model.Dispatch{}, notFound("dispatch", id)
	}
	return d, nil
}

func (b *Backend) RoutesByDispatch(ctx context.Context, dispatchID string) ([]model.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return nil, err
	}
	return b.routesLocked(func(r model.Route) bool { return r.DispatchID == dispatchID }), nil
}

func (b *Backend) RoutesByVehicle(ctx context.Context, vehicleID string) ([]model.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return nil, err
	}
	return b.routesLocked(func(r model.Route) bool { return r.VehicleID == vehicleID }), nil
}

func (b *Backend) Orders(ctx context.Context) ([]model.Order, error) {
	return b.listOrders(ctx, func(model.Order) bool { return true })
}

func (b *Backend) OrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return b.listOrders(ctx, func(o model.Order) bool { return o.UserID == userID })
}

func (b *Backend) PendingOrders(ctx context.Context) ([]model.Order, error) {
	return b.listOrders(ctx, func(o model.Order) bool { return o.Status == model.OrderPending })
}

func (b *Backend) InProgressOrders(ctx context.Context) ([]model.Order, error) {
	return b.listOrders(ctx, func(o model.Order) bool { return o.Status == model.OrderInProgress })
}

func (b *Backend) listOrders(ctx context.Context, match func(model.Order) bool) ([]model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return nil, err
	}
	return b.ordersLocked(match), nil
}

func (b *Backend) Order(ctx context.Context, id string) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return model.Order{}, err
	}
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, notFound("order", id)
	}
	return o, nil
}

func (b *Backend) Vehicle(ctx context.Context, id string) (model.Vehicle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return model.Vehicle{}, err
	}
	v, ok := b.vehicles[id]
	if !ok {
		return model.Vehicle{}, notFound("vehicle", id)
	}
	return v, nil
}

func (b *Backend) VehicleByDriver(ctx context.Context, driverID string) (model.Vehicle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return model.Vehicle{}, err
	}
	for _, v := range b.vehicles {
		if v.DriverID == driverID {
			return v, nil
		}
	}
	return model.Vehicle{}, notFound("vehicle of driver", driverID)
}

func (b *Backend) Depot(ctx context.Context, id string) (model.Depot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.beginRead(ctx); err != nil {
		return model.Depot{}, err
	}
	d, ok := b.depots[id]
	if !ok {
		return model.Depot{}, notFound("depot", id)
	}
	return d, nil
}
