package model

import "time"

// OrderStatus is the lifecycle state of a pickup order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Order is a single customer pickup request.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId,omitempty"`
	RouteID     *string     `json:"routeId,omitempty"`
	Index       *int        `json:"index,omitempty"`
	Status      OrderStatus `json:"status"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Weight      float64     `json:"weight"`
	Category    string      `json:"category"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Position returns the pickup location.
func (o Order) Position() Position {
	return Position{Latitude: o.Latitude, Longitude: o.Longitude}
}

// Assigned reports whether a dispatch placed the order on a route.
func (o Order) Assigned() bool { return o.RouteID != nil && *o.RouteID != "" }

// Terminal reports whether the order can no longer change.
func (o Order) Terminal() bool {
	return o.Status == OrderCompleted || o.Status == OrderCancelled
}
