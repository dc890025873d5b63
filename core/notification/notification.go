// Package notification turns inbound push notifications into targeted
// cache invalidations and user facing toasts.
package notification

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/snapshot"
)

// Kind tags a notification.
type Kind string

const (
	OrderCreated      Kind = "order.created"
	OrderUpdated      Kind = "order.updated"
	OrderCompleted    Kind = "order.completed"
	RouteCompleted    Kind = "route.completed"
	DispatchCreated   Kind = "dispatch.created"
	DispatchRerouted  Kind = "dispatch.rerouted"
	DispatchCompleted Kind = "dispatch.completed"
	VehicleUpdated    Kind = "vehicle.updated"
)

// Notification is the decoded push payload. Ids that do not apply to the
// kind are left empty.
type Notification struct {
	Kind       Kind   `json:"type"`
	OrderID    string `json:"orderId,omitempty"`
	RouteID    string `json:"routeId,omitempty"`
	DispatchID string `json:"dispatchId,omitempty"`
	VehicleID  string `json:"vehicleId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Decode parses a push payload.
func Decode(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

// Known reports whether k has a targeted invalidation set.
func (k Kind) Known() bool {
	switch k {
	case OrderCreated, OrderUpdated, OrderCompleted, RouteCompleted,
		DispatchCreated, DispatchRerouted, DispatchCompleted, VehicleUpdated:
		return true
	}
	return false
}

func (n Notification) userOrders(keys []snapshot.Key) []snapshot.Key {
	if n.UserID != "" {
		keys = append(keys, backend.UserOrdersKey(n.UserID))
	}
	return keys
}

// routeLists returns the route list keys that may contain the route named
// by n, or every route list when n does not say where the route lives.
func (n Notification) routeLists(keys []snapshot.Key) []snapshot.Key {
	if n.DispatchID == "" && n.VehicleID == "" {
		return append(keys, backend.RoutesKey())
	}
	if n.DispatchID != "" {
		keys = append(keys, backend.DispatchRoutesKey(n.DispatchID))
	}
	if n.VehicleID != "" {
		keys = append(keys, backend.VehicleRoutesKey(n.VehicleID))
	}
	return keys
}

// Invalidations returns the key prefixes affected by n. Unknown kinds return
// the empty key, which invalidates the whole cache.
func Invalidations(n Notification) []snapshot.Key {
	switch n.Kind {
	case OrderCreated, OrderUpdated:
		return n.userOrders([]snapshot.Key{backend.OrdersKey()})
	case OrderCompleted:
		keys := n.userOrders([]snapshot.Key{backend.OrdersKey()})
		return n.routeLists(keys)
	case RouteCompleted:
		var keys []snapshot.Key
		if n.RouteID != "" {
			keys = append(keys, backend.DispatchRoutesKey(n.RouteID))
		}
		if n.DispatchID != "" {
			keys = append(keys, backend.DispatchKey(n.DispatchID))
		}
		return n.routeLists(keys)
	case DispatchCreated:
		return []snapshot.Key{backend.DispatchesKey(), backend.OrdersKey(), backend.VehicleRoutesPrefix()}
	case DispatchRerouted:
		keys := []snapshot.Key{backend.DispatchesKey(), backend.OrdersKey(), backend.VehicleRoutesPrefix()}
		if n.DispatchID != "" {
			return append(keys, backend.DispatchRoutesKey(n.DispatchID))
		}
		return append(keys, backend.RoutesKey())
	case DispatchCompleted:
		return []snapshot.Key{backend.DispatchesKey()}
	case VehicleUpdated:
		if n.VehicleID == "" {
			return []snapshot.Key{backend.VehiclesKey()}
		}
		return []snapshot.Key{backend.VehicleKey(n.VehicleID), backend.DriverVehiclesPrefix()}
	default:
		return []snapshot.Key{{}}
	}
}

var defaultTitles = map[Kind]string{
	OrderCreated:      "New order",
	OrderUpdated:      "Order updated",
	OrderCompleted:    "Order collected",
	RouteCompleted:    "Route completed",
	DispatchCreated:   "Dispatch started",
	DispatchRerouted:  "Dispatch rerouted",
	DispatchCompleted: "Dispatch completed",
	VehicleUpdated:    "Vehicle updated",
}

// Toast is the message shown to the user for a notification.
type Toast struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// ToastFor builds the toast of n, falling back to a title per kind.
func ToastFor(n Notification) Toast {
	t := Toast{Kind: n.Kind, Title: n.Title, Body: n.Body}
	if t.Title == "" {
		t.Title = defaultTitles[n.Kind]
	}
	if t.Title == "" {
		t.Title = "Update received"
	}
	return t
}
