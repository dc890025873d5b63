// Package lifecycle holds the dispatch state machine and the guards that
// decide whether an order, route or dispatch may be marked done.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
)

// ErrTransition is wrapped by every rejected transition.
var ErrTransition = errors.New("lifecycle: transition not allowed")

// State is the dispatch lifecycle state seen by a manager.
type State string

const (
	NoActiveDispatch   State = "NO_ACTIVE_DISPATCH"
	DispatchInProgress State = "DISPATCH_IN_PROGRESS"
	DispatchCompleted  State = "DISPATCH_COMPLETED"
)

// Event triggers a transition.
type Event string

const (
	CreateDispatch   Event = "createDispatch"
	RerouteDispatch  Event = "rerouteDispatch"
	MarkDispatchDone Event = "markDispatchDone"
)

// StateOf derives the state from the current dispatch, which may be nil.
func StateOf(d *model.Dispatch) State {
	switch {
	case d == nil:
		return NoActiveDispatch
	case d.Status == model.DispatchCompleted:
		return DispatchCompleted
	default:
		return DispatchInProgress
	}
}

// Facts are the observations guards are evaluated against.
type Facts struct {
	Dispatch      *model.Dispatch
	Routes        []model.Route
	PendingOrders int
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransition, fmt.Sprintf(format, args...))
}

// Check validates ev against f without changing anything.
func Check(ev Event, f Facts) error {
	_, err := Next(ev, f)
	return err
}

// Next returns the state reached by applying ev, or an error wrapping
// ErrTransition. A completed dispatch behaves like no dispatch for
// CreateDispatch: it starts a new instance.
func Next(ev Event, f Facts) (State, error) {
	cur := StateOf(f.Dispatch)
	switch ev {
	case CreateDispatch:
		if cur == DispatchInProgress {
			return cur, reject("dispatch %s is still in progress", f.Dispatch.ID)
		}
		if f.PendingOrders <= 0 {
			return cur, reject("no pending orders to dispatch")
		}
		return DispatchInProgress, nil
	case RerouteDispatch:
		if cur != DispatchInProgress {
			return cur, reject("no dispatch in progress")
		}
		return DispatchInProgress, nil
	case MarkDispatchDone:
		if cur != DispatchInProgress {
			return cur, reject("no dispatch in progress")
		}
		if err := CanCompleteDispatch(*f.Dispatch, f.Routes); err != nil {
			return cur, err
		}
		return DispatchCompleted, nil
	default:
		return cur, reject("unknown event %q", ev)
	}
}

// CanCompleteOrder allows marking o done only while it is in progress.
func CanCompleteOrder(o model.Order) error {
	if o.Status != model.OrderInProgress {
		return reject("order %s is %s", o.ID, o.Status)
	}
	return nil
}

// CanCompleteRoute allows marking r done once all its orders are completed.
func CanCompleteRoute(r model.Route) error {
	if r.Status == model.RouteCompleted {
		return reject("route %s is already completed", r.ID)
	}
	if !projection.CanCompleteRoute(r) {
		return reject("route %s has %d of %d orders completed", r.ID, r.CompletedOrders(), len(r.Orders))
	}
	return nil
}

// CanCompleteDispatch allows marking d done once all of routes are completed.
func CanCompleteDispatch(d model.Dispatch, routes []model.Route) error {
	if d.Status == model.DispatchCompleted {
		return reject("dispatch %s is already completed", d.ID)
	}
	if !projection.CanCompleteDispatch(routes) {
		open := 0
		for _, r := range routes {
			if r.Status != model.RouteCompleted {
				open++
			}
		}
		return reject("dispatch %s has %d unfinished routes", d.ID, open)
	}
	return nil
}
