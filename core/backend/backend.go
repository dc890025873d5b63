// Package backend describes the REST API the reconciliation layer talks to:
// the read endpoints behind the snapshot cache, the write endpoints used by
// mutations, the response envelope and the cache key scheme.
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/kilianp07/dispatchsync/core/model"
)

// ErrNotFound is returned when the backend has no such entity.
var ErrNotFound = errors.New("backend: not found")

// Reader exposes the read endpoints.
type Reader interface {
	// CurrentDispatch returns the dispatch in progress, or nil when there is none.
	CurrentDispatch(ctx context.Context) (*model.Dispatch, error)
	Dispatch(ctx context.Context, id string) (model.Dispatch, error)
	RoutesByDispatch(ctx context.Context, dispatchID string) ([]model.Route, error)
	RoutesByVehicle(ctx context.Context, vehicleID string) ([]model.Route, error)
	Orders(ctx context.Context) ([]model.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	PendingOrders(ctx context.Context) ([]model.Order, error)
	InProgressOrders(ctx context.Context) ([]model.Order, error)
	Order(ctx context.Context, id string) (model.Order, error)
	Vehicle(ctx context.Context, id string) (model.Vehicle, error)
	VehicleByDriver(ctx context.Context, driverID string) (model.Vehicle, error)
	Depot(ctx context.Context, id string) (model.Depot, error)
}

// Writer exposes the state changing endpoints.
type Writer interface {
	// CreateDispatch runs the route optimizer over the pending orders.
	CreateDispatch(ctx context.Context) (model.Dispatch, error)
	RerouteDispatch(ctx context.Context, dispatchID string) (model.Dispatch, error)
	MarkOrderDone(ctx context.Context, orderID string) error
	MarkRouteDone(ctx context.Context, routeID string) error
	MarkDispatchDone(ctx context.Context, dispatchID string) error
	CreateOrder(ctx context.Context, in OrderInput) (model.Order, error)
	UpdateOrder(ctx context.Context, id string, in OrderInput) (model.Order, error)
}

// Backend is the full API.
type Backend interface {
	Reader
	Writer
}

// Attachment is an optional image sent with an order as multipart data.
type Attachment struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// OrderInput carries the customer editable fields of an order.
type OrderInput struct {
	UserID    string
	Latitude  float64
	Longitude float64
	Weight    float64
	Category  string
	Image     *Attachment
}
