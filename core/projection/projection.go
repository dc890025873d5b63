// Package projection derives what a dispatch view displays from snapshot
// data and live telemetry. Everything here is a pure function recomputed on
// every read; nothing is cached.
package projection

import (
	"math"
	"sort"
	"time"

	"github.com/kilianp07/dispatchsync/core/model"
)

// PositionSource tells where an effective position came from.
type PositionSource string

const (
	FromTelemetry PositionSource = "telemetry"
	FromSnapshot  PositionSource = "snapshot"
)

// Freshness decides whether a telemetry sample may still be displayed.
// A zero MaxAge accepts samples of any age.
type Freshness struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (f Freshness) fresh(s model.TelemetrySample) bool {
	if f.MaxAge <= 0 || s.ReceivedAt.IsZero() {
		return true
	}
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	return now.Sub(s.ReceivedAt) <= f.MaxAge
}

// EffectivePosition returns the live position of v when a fresh sample for
// it is available, and the persisted position otherwise.
func EffectivePosition(v model.Vehicle, sample *model.TelemetrySample, f Freshness) (model.Position, PositionSource) {
	if sample != nil && (sample.VehicleID == "" || sample.VehicleID == v.ID) && f.fresh(*sample) {
		return sample.Position(), FromTelemetry
	}
	return v.Position(), FromSnapshot
}

// RouteProgress is the share of completed orders in [0,1]. A route without
// orders has progress 0.
func RouteProgress(r model.Route) float64 {
	if len(r.Orders) == 0 {
		return 0
	}
	return float64(r.CompletedOrders()) / float64(len(r.Orders))
}

// CanCompleteRoute reports whether every order of a non-empty route is done.
func CanCompleteRoute(r model.Route) bool {
	return len(r.Orders) > 0 && r.CompletedOrders() == len(r.Orders)
}

// CanCompleteDispatch reports whether every route of the dispatch is
// completed. A dispatch without routes is trivially completable.
func CanCompleteDispatch(routes []model.Route) bool {
	for _, r := range routes {
		if r.Status != model.RouteCompleted {
			return false
		}
	}
	return true
}

// DispatchProgress is the share of completed orders over all routes.
func DispatchProgress(routes []model.Route) float64 {
	var done, total int
	for _, r := range routes {
		done += r.CompletedOrders()
		total += len(r.Orders)
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Path is the part of a route still to be driven.
type Path struct {
	Stops []model.Order   `json:"stops"`
	End   *model.Position `json:"end,omitempty"`
}

// Points lists the stop positions followed by the end anchor, if any.
func (p Path) Points() []model.Position {
	out := make([]model.Position, 0, len(p.Stops)+1)
	for _, o := range p.Stops {
		out = append(out, o.Position())
	}
	if p.End != nil {
		out = append(out, *p.End)
	}
	return out
}

// RemainingPath returns the orders of r not yet completed, by ascending stop
// index. Orders without an index come last, ordered by id. When end is set
// the path finishes there, typically at the vehicle's depot.
func RemainingPath(r model.Route, end *model.Position) Path {
	stops := make([]model.Order, 0, len(r.Orders))
	for _, o := range r.Orders {
		if o.Status != model.OrderCompleted {
			stops = append(stops, o)
		}
	}
	SortByStopIndex(stops)
	p := Path{Stops: stops}
	if end != nil {
		e := *end
		p.End = &e
	}
	return p
}

// SortByStopIndex orders stops by index with unindexed orders last.
func SortByStopIndex(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i].Index, orders[j].Index
		switch {
		case a != nil && b != nil:
			if *a != *b {
				return *a < *b
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return orders[i].ID < orders[j].ID
	})
}

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b model.Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RemainingDistance is the straight-line length of driving from through the
// remaining path.
func RemainingDistance(from model.Position, p Path) float64 {
	total := 0.0
	cur := from
	for _, pt := range p.Points() {
		total += Distance(cur, pt)
		cur = pt
	}
	return total
}
