package projection

import (
	"sort"

	"github.com/kilianp07/dispatchsync/core/model"
)

// BoardInput gathers the snapshots and live samples a board is built from.
type BoardInput struct {
	Dispatch  *model.Dispatch
	Routes    []model.Route
	Vehicles  map[string]model.Vehicle
	Depots    map[string]model.Depot
	Telemetry map[string]model.TelemetrySample
	Freshness Freshness
}

// RouteView is the per-route row of the board.
type RouteView struct {
	RouteID        string            `json:"routeId"`
	VehicleID      string            `json:"vehicleId"`
	Status         model.RouteStatus `json:"status"`
	Completed      int               `json:"completed"`
	Total          int               `json:"total"`
	Progress       float64           `json:"progress"`
	CanComplete    bool              `json:"canComplete"`
	Position       *model.Position   `json:"position,omitempty"`
	PositionSource PositionSource    `json:"positionSource,omitempty"`
	Load           float64           `json:"load"`
	Remaining      Path              `json:"remaining"`
	RemainingKm    float64           `json:"remainingKm"`
}

// Board is the dispatch overview shown to managers.
type Board struct {
	Dispatch    *model.Dispatch `json:"dispatch"`
	Routes      []RouteView     `json:"routes"`
	Progress    float64         `json:"progress"`
	CanComplete bool            `json:"canComplete"`
}

// BuildBoard derives the board for in. Routes are listed by id. Vehicles
// missing from in.Vehicles are shown without a position.
func BuildBoard(in BoardInput) Board {
	b := Board{Dispatch: in.Dispatch, Routes: make([]RouteView, 0, len(in.Routes))}
	if in.Dispatch == nil {
		return b
	}
	b.Progress = DispatchProgress(in.Routes)
	b.CanComplete = in.Dispatch.IsActive() && CanCompleteDispatch(in.Routes)

	for _, r := range in.Routes {
		rv := RouteView{
			RouteID:     r.ID,
			VehicleID:   r.VehicleID,
			Status:      r.Status,
			Completed:   r.CompletedOrders(),
			Total:       len(r.Orders),
			Progress:    RouteProgress(r),
			CanComplete: r.Status != model.RouteCompleted && CanCompleteRoute(r),
		}

		var end *model.Position
		v, ok := in.Vehicles[r.VehicleID]
		if ok {
			if d, found := in.Depots[v.DepotID]; found {
				pos := d.Position()
				end = &pos
			}
			var sample *model.TelemetrySample
			if s, live := in.Telemetry[r.VehicleID]; live {
				sample = &s
			}
			pos, src := EffectivePosition(v, sample, in.Freshness)
			rv.Position = &pos
			rv.PositionSource = src
			rv.Load = v.CurrentLoad
			if src == FromTelemetry {
				rv.Load = sample.Load
			}
		}
		rv.Remaining = RemainingPath(r, end)
		if rv.Position != nil {
			rv.RemainingKm = RemainingDistance(*rv.Position, rv.Remaining)
		}
		b.Routes = append(b.Routes, rv)
	}
	sort.Slice(b.Routes, func(i, j int) bool { return b.Routes[i].RouteID < b.Routes[j].RouteID })
	return b
}
