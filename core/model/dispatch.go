package model

import "time"

// DispatchStatus is the completion state of a dispatch.
type DispatchStatus string

const (
	DispatchInProgress DispatchStatus = "IN_PROGRESS"
	DispatchCompleted  DispatchStatus = "COMPLETED"
)

// Dispatch groups the routes produced by one optimizer run.
type Dispatch struct {
	ID          string         `json:"id"`
	Status      DispatchStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// IsActive reports whether the dispatch is still being executed.
func (d Dispatch) IsActive() bool { return d.Status != DispatchCompleted }

// RouteStatus is the completion state of a route.
type RouteStatus string

const (
	RouteInProgress RouteStatus = "IN_PROGRESS"
	RouteCompleted  RouteStatus = "COMPLETED"
)

// Route is the ordered list of stops one vehicle visits within a dispatch.
type Route struct {
	ID          string      `json:"id"`
	DispatchID  string      `json:"dispatchId"`
	VehicleID   string      `json:"vehicleId"`
	Status      RouteStatus `json:"status"`
	Orders      []Order     `json:"orders"`
	Distance    float64     `json:"distance"`
	Duration    float64     `json:"duration"`
	Coordinates []Position  `json:"coordinates"`
}

// CompletedOrders counts the orders of the route already picked up.
func (r Route) CompletedOrders() int {
	n := 0
	for _, o := range r.Orders {
		if o.Status == OrderCompleted {
			n++
		}
	}
	return n
}

// Order looks up an order of the route by id.
func (r Route) Order(id string) (Order, bool) {
	for _, o := range r.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}
