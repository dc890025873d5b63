package backend

import (
	"context"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/snapshot"
)

// Resolver maps cache keys onto the read endpoints of r.
type Resolver struct {
	r Reader
}

// NewResolver returns a snapshot.Resolver backed by r.
func NewResolver(r Reader) Resolver { return Resolver{r: r} }

func unsupported(k snapshot.Key) error {
	return fmt.Errorf("%w %s", snapshot.ErrNoResolver, k)
}

// Resolve implements snapshot.Resolver.
func (res Resolver) Resolve(k snapshot.Key) (snapshot.Fetcher, error) {
	r := res.r
	switch k.Resource() {
	case segDispatches:
		switch {
		case len(k) == 2 && k[1] == segCurrent:
			return func(ctx context.Context) (any, error) { return r.CurrentDispatch(ctx) }, nil
		case len(k) == 2:
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.Dispatch(ctx, id) }, nil
		}
	case segRoutes:
		switch {
		case len(k) == 3 && k[1] == segVehicle:
			id := k[2]
			return func(ctx context.Context) (any, error) { return r.RoutesByVehicle(ctx, id) }, nil
		case len(k) == 2 && k[1] != segVehicle:
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.RoutesByDispatch(ctx, id) }, nil
		}
	case segOrders:
		switch {
		case len(k) == 1:
			return func(ctx context.Context) (any, error) { return r.Orders(ctx) }, nil
		case len(k) == 2 && k[1] == segPending:
			return func(ctx context.Context) (any, error) { return r.PendingOrders(ctx) }, nil
		case len(k) == 2 && k[1] == segInProgress:
			return func(ctx context.Context) (any, error) { return r.InProgressOrders(ctx) }, nil
		case len(k) == 2:
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.Order(ctx, id) }, nil
		}
	case segUsers:
		if len(k) == 3 && k[2] == segOrders {
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.OrdersByUser(ctx, id) }, nil
		}
	case segVehicles:
		switch {
		case len(k) == 3 && k[1] == segDriver:
			id := k[2]
			return func(ctx context.Context) (any, error) { return r.VehicleByDriver(ctx, id) }, nil
		case len(k) == 2 && k[1] != segDriver:
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.Vehicle(ctx, id) }, nil
		}
	case segDepots:
		if len(k) == 2 {
			id := k[1]
			return func(ctx context.Context) (any, error) { return r.Depot(ctx, id) }, nil
		}
	}
	return nil, unsupported(k)
}
