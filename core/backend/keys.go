package backend

import (
	"errors"
	"fmt"

	"github.com/kilianp07/dispatchsync/core/snapshot"
)

// ErrReservedID is returned for an id that spells a list key segment.
var ErrReservedID = errors.New("backend: reserved id")

// Key segments shared by the key builders and the resolver.
const (
	segDispatches = "dispatches"
	segRoutes     = "routes"
	segOrders     = "orders"
	segUsers      = "users"
	segVehicles   = "vehicles"
	segDepots     = "depots"

	segCurrent    = "current"
	segPending    = "pending"
	segInProgress = "in-progress"
	segVehicle    = "vehicle"
	segDriver     = "driver"
)

// CheckID rejects ids that would build the key of a list instead of an
// entity, such as order "pending" and ["orders","pending"].
func CheckID(id string) error {
	switch id {
	case "", segCurrent, segPending, segInProgress, segVehicle, segDriver:
		return fmt.Errorf("%w %q", ErrReservedID, id)
	}
	return nil
}

// Dispatch keys.
func DispatchesKey() snapshot.Key        { return snapshot.K(segDispatches) }
func CurrentDispatchKey() snapshot.Key   { return snapshot.K(segDispatches, segCurrent) }
func DispatchKey(id string) snapshot.Key { return snapshot.K(segDispatches, id) }

// Route list keys. Routes are listed per dispatch and per vehicle.
func RoutesKey() snapshot.Key                  { return snapshot.K(segRoutes) }
func DispatchRoutesKey(id string) snapshot.Key { return snapshot.K(segRoutes, id) }
func VehicleRoutesPrefix() snapshot.Key        { return snapshot.K(segRoutes, segVehicle) }
func VehicleRoutesKey(id string) snapshot.Key  { return snapshot.K(segRoutes, segVehicle, id) }

// Order keys.
func OrdersKey() snapshot.Key                  { return snapshot.K(segOrders) }
func PendingOrdersKey() snapshot.Key           { return snapshot.K(segOrders, segPending) }
func InProgressOrdersKey() snapshot.Key        { return snapshot.K(segOrders, segInProgress) }
func OrderKey(id string) snapshot.Key          { return snapshot.K(segOrders, id) }
func UserOrdersKey(userID string) snapshot.Key { return snapshot.K(segUsers, userID, segOrders) }

// Vehicle and depot keys.
func VehiclesKey() snapshot.Key          { return snapshot.K(segVehicles) }
func VehicleKey(id string) snapshot.Key  { return snapshot.K(segVehicles, id) }
func DriverVehiclesPrefix() snapshot.Key { return snapshot.K(segVehicles, segDriver) }
func DriverVehicleKey(driverID string) snapshot.Key {
	return snapshot.K(segVehicles, segDriver, driverID)
}
func DepotKey(id string) snapshot.Key { return snapshot.K(segDepots, id) }
