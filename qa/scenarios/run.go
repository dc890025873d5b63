package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/mutation"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/infra/memory"
)

// Runner replays scenarios against a fresh in-memory backend.
type Runner struct {
	Mem   *memory.Backend
	Store *snapshot.Store
	Coord *mutation.Coordinator
}

// NewRunner seeds a backend with sc and wires a coordinator over it.
func NewRunner(sc *Scenario) *Runner {
	mem := memory.New()
	sc.Seed(mem)
	store := snapshot.New(backend.NewResolver(mem), snapshot.Options{})
	return &Runner{Mem: mem, Store: store, Coord: mutation.New(store, mem, mutation.Options{})}
}

// Close releases the runner's store.
func (r *Runner) Close() { r.Store.Close() }

// Run executes every step of sc and then checks sc.Expected. It returns the
// first mismatch.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	for i, st := range sc.Steps {
		if st.FailWith != "" {
			r.Mem.FailNext(errors.New(st.FailWith))
		}
		err := r.apply(ctx, st)
		if got, want := outcome(err), expectation(st); got != want {
			return fmt.Errorf("step %d %s %s: got %s, want %s (err: %v)", i+1, st.Action, st.Target, got, want, err)
		}
		if st.FailWith != "" {
			// A refused step never reached the backend; drop the pending failure.
			r.Mem.FailNext(nil)
		}
	}
	if sc.Expected == nil {
		return nil
	}
	return r.check(ctx, *sc.Expected)
}

func expectation(st Step) string {
	if st.Expect == "" {
		return ExpectOK
	}
	return st.Expect
}

func outcome(err error) string {
	switch {
	case err == nil:
		return ExpectOK
	case mutation.IsPrecondition(err):
		return ExpectRejected
	default:
		return ExpectFailed
	}
}

func (r *Runner) apply(ctx context.Context, st Step) error {
	switch st.Action {
	case ActionCreateDispatch:
		_, err := r.Coord.CreateDispatch(ctx)
		return err
	case ActionRerouteDispatch:
		_, err := r.Coord.RerouteDispatch(ctx)
		return err
	case ActionCompleteOrder:
		return r.Coord.MarkOrderDone(ctx, st.Target)
	case ActionCompleteRoute:
		routeID, err := r.routeOf(ctx, st.Target)
		if err != nil {
			return err
		}
		return r.Coord.MarkRouteDone(ctx, routeID)
	case ActionCompleteDispatch:
		cur, err := snapshot.LoadAs[*model.Dispatch](ctx, r.Store, backend.CurrentDispatchKey())
		if err != nil {
			return err
		}
		id := ""
		if cur != nil {
			id = cur.ID
		}
		return r.Coord.MarkDispatchDone(ctx, id)
	case ActionAddOrder:
		o := st.Order
		_, err := r.Coord.CreateOrder(ctx, backend.OrderInput{
			UserID: o.User, Latitude: o.Lat, Longitude: o.Lon, Weight: o.Weight, Category: o.Category,
		})
		return err
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

// routeOf finds the route of vehicleID in the current dispatch. A missing
// route is returned as an unknown id so the coordinator refuses it.
func (r *Runner) routeOf(ctx context.Context, vehicleID string) (string, error) {
	cur, err := snapshot.LoadAs[*model.Dispatch](ctx, r.Store, backend.CurrentDispatchKey())
	if err != nil || cur == nil {
		return "vehicle:" + vehicleID, err
	}
	routes, err := snapshot.LoadAs[[]model.Route](ctx, r.Store, backend.DispatchRoutesKey(cur.ID))
	if err != nil {
		return "", err
	}
	for _, rt := range routes {
		if rt.VehicleID == vehicleID {
			return rt.ID, nil
		}
	}
	return "vehicle:" + vehicleID, nil
}

func (r *Runner) check(ctx context.Context, want Expected) error {
	orders, err := r.Mem.Orders(ctx)
	if err != nil {
		return err
	}
	pending, completed := 0, 0
	for _, o := range orders {
		switch o.Status {
		case model.OrderPending:
			pending++
		case model.OrderCompleted:
			completed++
		}
	}
	if pending != want.PendingOrders {
		return fmt.Errorf("pending orders: got %d, want %d", pending, want.PendingOrders)
	}
	if completed != want.CompletedOrders {
		return fmt.Errorf("completed orders: got %d, want %d", completed, want.CompletedOrders)
	}

	status, routes := "none", 0
	if d := r.Mem.LatestDispatch(); d != nil {
		status = string(d.Status)
		rs, err := r.Mem.RoutesByDispatch(ctx, d.ID)
		if err != nil {
			return err
		}
		routes = len(rs)
	}
	if want.Dispatch != "" && status != want.Dispatch {
		return fmt.Errorf("dispatch: got %s, want %s", status, want.Dispatch)
	}
	if routes != want.Routes {
		return fmt.Errorf("routes: got %d, want %d", routes, want.Routes)
	}
	return nil
}
