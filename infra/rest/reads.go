package rest

import (
	"context"

	"github.com/kilianp07/dispatchsync/core/model"
)

func (c *Client) CurrentDispatch(ctx context.Context) (*model.Dispatch, error) {
	var d *model.Dispatch
	if err := c.get(ctx, &d, "dispatches", "current"); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *Client) Dispatch(ctx context.Context, id string) (model.Dispatch, error) {
	var d model.Dispatch
	err := c.get(ctx, &d, "dispatches", id)
	return d, err
}

func (c *Client) RoutesByDispatch(ctx context.Context, dispatchID string) ([]model.Route, error) {
	var routes []model.Route
	err := c.get(ctx, &routes, "dispatches", dispatchID, "routes")
	return routes, err
}

func (c *Client) RoutesByVehicle(ctx context.Context, vehicleID string) ([]model.Route, error) {
	var routes []model.Route
	err := c.get(ctx, &routes, "vehicles", vehicleID, "routes")
	return routes, err
}

func (c *Client) Orders(ctx context.Context) ([]model.Order, error) {
	return c.orders(ctx, "orders")
}

func (c *Client) OrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return c.orders(ctx, "users", userID, "orders")
}

func (c *Client) PendingOrders(ctx context.Context) ([]model.Order, error) {
	return c.orders(ctx, "orders", "pending")
}

func (c *Client) InProgressOrders(ctx context.Context) ([]model.Order, error) {
	return c.orders(ctx, "orders", "in-progress")
}

func (c *Client) orders(ctx context.Context, path ...string) ([]model.Order, error) {
	var orders []model.Order
	err := c.get(ctx, &orders, path...)
	return orders, err
}

func (c *Client) Order(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := c.get(ctx, &o, "orders", id)
	return o, err
}

func (c *Client) Vehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var v model.Vehicle
	err := c.get(ctx, &v, "vehicles", id)
	return v, err
}

func (c *Client) VehicleByDriver(ctx context.Context, driverID string) (model.Vehicle, error) {
	var v model.Vehicle
	err := c.get(ctx, &v, "drivers", driverID, "vehicle")
	return v, err
}

func (c *Client) Depot(ctx context.Context, id string) (model.Depot, error) {
	var d model.Depot
	err := c.get(ctx, &d, "depots", id)
	return d, err
}
