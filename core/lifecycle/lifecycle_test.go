package lifecycle

import (
	"errors"
	"strings"
	"testing"

	"github.com/kilianp07/dispatchsync/core/model"
)

func routeWith(id string, st model.RouteStatus, statuses ...model.OrderStatus) model.Route {
	r := model.Route{ID: id, DispatchID: "D", Status: st}
	for i, s := range statuses {
		r.Orders = append(r.Orders, model.Order{ID: id + string(rune('a'+i)), Status: s})
	}
	return r
}

func TestStateOf(t *testing.T) {
	if got := StateOf(nil); got != NoActiveDispatch {
		t.Fatalf("StateOf(nil) = %s", got)
	}
	if got := StateOf(&model.Dispatch{Status: model.DispatchInProgress}); got != DispatchInProgress {
		t.Fatalf("in progress dispatch: %s", got)
	}
	if got := StateOf(&model.Dispatch{Status: model.DispatchCompleted}); got != DispatchCompleted {
		t.Fatalf("completed dispatch: %s", got)
	}
}

func TestTransitions(t *testing.T) {
	active := &model.Dispatch{ID: "D", Status: model.DispatchInProgress}
	done := &model.Dispatch{ID: "D", Status: model.DispatchCompleted}
	finished := routeWith("R1", model.RouteCompleted, model.OrderCompleted)

	tests := []struct {
		name  string
		ev    Event
		facts Facts
		want  State
		err   bool
	}{
		{"create with pending orders", CreateDispatch, Facts{PendingOrders: 2}, DispatchInProgress, false},
		{"create without pending orders", CreateDispatch, Facts{}, NoActiveDispatch, true},
		{"create while active", CreateDispatch, Facts{Dispatch: active, PendingOrders: 2}, DispatchInProgress, true},
		{"create after completion", CreateDispatch, Facts{Dispatch: done, PendingOrders: 1}, DispatchInProgress, false},
		{"reroute active", RerouteDispatch, Facts{Dispatch: active}, DispatchInProgress, false},
		{"reroute without dispatch", RerouteDispatch, Facts{}, NoActiveDispatch, true},
		{"reroute completed", RerouteDispatch, Facts{Dispatch: done}, DispatchCompleted, true},
		{"done when all routes completed", MarkDispatchDone, Facts{Dispatch: active, Routes: []model.Route{finished}}, DispatchCompleted, false},
		{"done twice", MarkDispatchDone, Facts{Dispatch: done, Routes: []model.Route{finished}}, DispatchCompleted, true},
		{"done without dispatch", MarkDispatchDone, Facts{}, NoActiveDispatch, true},
		{"unknown event", Event("explode"), Facts{Dispatch: active}, DispatchInProgress, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.ev, tt.facts)
			if got != tt.want {
				t.Fatalf("state = %s, want %s", got, tt.want)
			}
			if tt.err && !errors.Is(err, ErrTransition) {
				t.Fatalf("expected ErrTransition, got %v", err)
			}
			if !tt.err && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if cerr := Check(tt.ev, tt.facts); (cerr == nil) != (err == nil) {
				t.Fatalf("Check = %v, Next = %v", cerr, err)
			}
		})
	}
}

func TestMarkDispatchDoneRejectedWithUnfinishedRoute(t *testing.T) {
	d := &model.Dispatch{ID: "D", Status: model.DispatchInProgress}
	r1 := routeWith("R1", model.RouteCompleted, model.OrderCompleted, model.OrderCompleted, model.OrderCompleted)
	r2 := routeWith("R2", model.RouteInProgress, model.OrderCompleted, model.OrderInProgress)

	_, err := Next(MarkDispatchDone, Facts{Dispatch: d, Routes: []model.Route{r1, r2}})
	if !errors.Is(err, ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
	if !strings.Contains(err.Error(), "1 unfinished routes") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestCanCompleteOrder(t *testing.T) {
	if err := CanCompleteOrder(model.Order{ID: "O", Status: model.OrderInProgress}); err != nil {
		t.Fatalf("in progress order: %v", err)
	}
	for _, st := range []model.OrderStatus{model.OrderPending, model.OrderCompleted, model.OrderCancelled} {
		if err := CanCompleteOrder(model.Order{ID: "O", Status: st}); !errors.Is(err, ErrTransition) {
			t.Fatalf("%s order: got %v", st, err)
		}
	}
}

func TestCanCompleteRoute(t *testing.T) {
	if err := CanCompleteRoute(routeWith("R", model.RouteInProgress, model.OrderCompleted)); err != nil {
		t.Fatalf("finished route: %v", err)
	}
	for name, r := range map[string]model.Route{
		"empty":     routeWith("R", model.RouteInProgress),
		"open":      routeWith("R", model.RouteInProgress, model.OrderCompleted, model.OrderInProgress),
		"completed": routeWith("R", model.RouteCompleted, model.OrderCompleted),
	} {
		if err := CanCompleteRoute(r); !errors.Is(err, ErrTransition) {
			t.Fatalf("%s route: got %v", name, err)
		}
	}
}
