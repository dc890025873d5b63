package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/lifecycle"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/snapshot"
)

// ErrInvalidOrder is wrapped when order input fails validation.
var ErrInvalidOrder = errors.New("invalid order")

func (c *Coordinator) currentDispatch(ctx context.Context) (*model.Dispatch, error) {
	return snapshot.LoadAs[*model.Dispatch](ctx, c.store, backend.CurrentDispatchKey())
}

func (c *Coordinator) dispatchRoutes(ctx context.Context, dispatchID string) ([]model.Route, error) {
	return snapshot.LoadAs[[]model.Route](ctx, c.store, backend.DispatchRoutesKey(dispatchID))
}

// reject turns a read error into a refusal when the entity does not exist.
func reject(op Operation, target string, err error) error {
	if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrReservedID) || errors.Is(err, lifecycle.ErrTransition) || errors.Is(err, ErrInvalidOrder) {
		return &PreconditionError{Op: op, TargetID: target, Err: err}
	}
	return err
}

// routeKeys lists the route list keys that contain r.
func routeKeys(r model.Route) []snapshot.Key {
	return []snapshot.Key{backend.DispatchRoutesKey(r.DispatchID), backend.VehicleRoutesKey(r.VehicleID)}
}

// CreateDispatch runs the optimizer over the pending orders. It is refused
// while a dispatch is in progress or when nothing is pending.
func (c *Coordinator) CreateDispatch(ctx context.Context) (model.Dispatch, error) {
	var created model.Dispatch
	err := c.run(ctx, step{
		op: CreateDispatch,
		check: func(ctx context.Context) error {
			cur, err := c.currentDispatch(ctx)
			if err != nil {
				return err
			}
			pending, err := snapshot.LoadAs[[]model.Order](ctx, c.store, backend.PendingOrdersKey())
			if err != nil {
				return err
			}
			return reject(CreateDispatch, "", lifecycle.Check(lifecycle.CreateDispatch, lifecycle.Facts{
				Dispatch:      cur,
				PendingOrders: len(pending),
			}))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			d, err := c.api.CreateDispatch(ctx)
			if err != nil {
				return nil, fmt.Errorf("create dispatch: %w", err)
			}
			created = d
			return []snapshot.Key{
				backend.DispatchesKey(),
				backend.PendingOrdersKey(),
				backend.VehicleRoutesPrefix(),
			}, nil
		},
	})
	return created, err
}

// RerouteDispatch asks the optimizer to regroup the orders still pending
// into the active dispatch.
func (c *Coordinator) RerouteDispatch(ctx context.Context) (model.Dispatch, error) {
	var out model.Dispatch
	var cur *model.Dispatch
	err := c.run(ctx, step{
		op: RerouteDispatch,
		check: func(ctx context.Context) error {
			var err error
			cur, err = c.currentDispatch(ctx)
			if err != nil {
				return err
			}
			return reject(RerouteDispatch, "", lifecycle.Check(lifecycle.RerouteDispatch, lifecycle.Facts{Dispatch: cur}))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			d, err := c.api.RerouteDispatch(ctx, cur.ID)
			if err != nil {
				return nil, fmt.Errorf("reroute dispatch %s: %w", cur.ID, err)
			}
			out = d
			return []snapshot.Key{
				backend.DispatchesKey(),
				backend.DispatchRoutesKey(cur.ID),
				backend.PendingOrdersKey(),
				backend.VehicleRoutesPrefix(),
			}, nil
		},
	})
	return out, err
}

// MarkOrderDone completes an order that is in progress.
func (c *Coordinator) MarkOrderDone(ctx context.Context, orderID string) error {
	var order model.Order
	return c.run(ctx, step{
		op:     MarkOrderDone,
		target: orderID,
		check: func(ctx context.Context) error {
			if err := backend.CheckID(orderID); err != nil {
				return reject(MarkOrderDone, orderID, err)
			}
			var err error
			order, err = snapshot.LoadAs[model.Order](ctx, c.store, backend.OrderKey(orderID))
			if err != nil {
				return reject(MarkOrderDone, orderID, err)
			}
			return reject(MarkOrderDone, orderID, lifecycle.CanCompleteOrder(order))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			if err := c.api.MarkOrderDone(ctx, orderID); err != nil {
				return nil, fmt.Errorf("mark order %s done: %w", orderID, err)
			}
			keys := []snapshot.Key{backend.OrdersKey(), backend.OrderKey(orderID)}
			if order.UserID != "" {
				keys = append(keys, backend.UserOrdersKey(order.UserID))
			}
			if !order.Assigned() {
				return keys, nil
			}
			routeID := *order.RouteID
			keys = append(keys, backend.DispatchRoutesKey(routeID))
			if r, ok := c.cachedRoute(routeID); ok {
				keys = append(keys, routeKeys(r)...)
			} else {
				keys = append(keys, backend.RoutesKey())
			}
			return keys, nil
		},
	})
}

// cachedRoute looks routeID up in the cached routes of the current dispatch.
func (c *Coordinator) cachedRoute(routeID string) (model.Route, bool) {
	cur, ok := snapshot.As[*model.Dispatch](c.store.Get(backend.CurrentDispatchKey()))
	if !ok || cur == nil {
		return model.Route{}, false
	}
	routes, ok := snapshot.As[[]model.Route](c.store.Get(backend.DispatchRoutesKey(cur.ID)))
	if !ok {
		return model.Route{}, false
	}
	return findRoute(routes, routeID)
}

func findRoute(routes []model.Route, id string) (model.Route, bool) {
	for _, r := range routes {
		if r.ID == id {
			return r, true
		}
	}
	return model.Route{}, false
}

// MarkRouteDone completes a route of the current dispatch once all of its
// orders are completed.
func (c *Coordinator) MarkRouteDone(ctx context.Context, routeID string) error {
	var route model.Route
	return c.run(ctx, step{
		op:     MarkRouteDone,
		target: routeID,
		check: func(ctx context.Context) error {
			if err := backend.CheckID(routeID); err != nil {
				return reject(MarkRouteDone, routeID, err)
			}
			cur, err := c.currentDispatch(ctx)
			if err != nil {
				return err
			}
			if cur == nil {
				return reject(MarkRouteDone, routeID, fmt.Errorf("%w: no dispatch in progress", lifecycle.ErrTransition))
			}
			routes, err := c.dispatchRoutes(ctx, cur.ID)
			if err != nil {
				return err
			}
			r, ok := findRoute(routes, routeID)
			if !ok {
				return reject(MarkRouteDone, routeID, fmt.Errorf("route %s: %w", routeID, backend.ErrNotFound))
			}
			route = r
			return reject(MarkRouteDone, routeID, lifecycle.CanCompleteRoute(r))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			if err := c.api.MarkRouteDone(ctx, routeID); err != nil {
				return nil, fmt.Errorf("mark route %s done: %w", routeID, err)
			}
			keys := []snapshot.Key{
				backend.DispatchRoutesKey(routeID),
				backend.DispatchKey(route.DispatchID),
			}
			return append(keys, routeKeys(route)...), nil
		},
	})
}

// MarkDispatchDone completes a dispatch once every route is completed.
func (c *Coordinator) MarkDispatchDone(ctx context.Context, dispatchID string) error {
	return c.run(ctx, step{
		op:     MarkDispatchDone,
		target: dispatchID,
		check: func(ctx context.Context) error {
			if err := backend.CheckID(dispatchID); err != nil {
				return reject(MarkDispatchDone, dispatchID, err)
			}
			d, err := snapshot.LoadAs[model.Dispatch](ctx, c.store, backend.DispatchKey(dispatchID))
			if err != nil {
				return reject(MarkDispatchDone, dispatchID, err)
			}
			routes, err := c.dispatchRoutes(ctx, dispatchID)
			if err != nil {
				return err
			}
			return reject(MarkDispatchDone, dispatchID, lifecycle.Check(lifecycle.MarkDispatchDone, lifecycle.Facts{
				Dispatch: &d,
				Routes:   routes,
			}))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			if err := c.api.MarkDispatchDone(ctx, dispatchID); err != nil {
				return nil, fmt.Errorf("mark dispatch %s done: %w", dispatchID, err)
			}
			return []snapshot.Key{backend.DispatchesKey(), backend.DispatchKey(dispatchID)}, nil
		},
	})
}

func validateOrder(in backend.OrderInput) error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidOrder)
	}
	if in.Weight <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidOrder)
	}
	if err := (model.Position{Latitude: in.Latitude, Longitude: in.Longitude}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return nil
}

// CreateOrder submits a new pickup request.
func (c *Coordinator) CreateOrder(ctx context.Context, in backend.OrderInput) (model.Order, error) {
	var created model.Order
	err := c.run(ctx, step{
		op:     CreateOrder,
		target: in.UserID,
		check: func(context.Context) error {
			return reject(CreateOrder, in.UserID, validateOrder(in))
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			o, err := c.api.CreateOrder(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("create order: %w", err)
			}
			created = o
			return []snapshot.Key{backend.OrdersKey(), backend.UserOrdersKey(in.UserID)}, nil
		},
	})
	return created, err
}

// UpdateOrder edits an order that no dispatch has picked up yet.
func (c *Coordinator) UpdateOrder(ctx context.Context, id string, in backend.OrderInput) (model.Order, error) {
	var updated model.Order
	err := c.run(ctx, step{
		op:     UpdateOrder,
		target: id,
		check: func(ctx context.Context) error {
			if err := backend.CheckID(id); err != nil {
				return reject(UpdateOrder, id, err)
			}
			if err := validateOrder(in); err != nil {
				return reject(UpdateOrder, id, err)
			}
			cur, err := snapshot.LoadAs[model.Order](ctx, c.store, backend.OrderKey(id))
			if err != nil {
				return reject(UpdateOrder, id, err)
			}
			if cur.Status != model.OrderPending {
				return reject(UpdateOrder, id, fmt.Errorf("%w: order %s is %s", lifecycle.ErrTransition, id, cur.Status))
			}
			return nil
		},
		write: func(ctx context.Context) ([]snapshot.Key, error) {
			o, err := c.api.UpdateOrder(ctx, id, in)
			if err != nil {
				return nil, fmt.Errorf("update order %s: %w", id, err)
			}
			updated = o
			return []snapshot.Key{backend.OrdersKey(), backend.UserOrdersKey(in.UserID)}, nil
		},
	})
	return updated, err
}
