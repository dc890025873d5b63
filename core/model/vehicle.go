package model

import "fmt"

// Position is a WGS84 coordinate.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether the position was never set.
func (p Position) IsZero() bool { return p.Latitude == 0 && p.Longitude == 0 }

// Validate checks that the coordinate lies in the WGS84 range.
func (p Position) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", p.Longitude)
	}
	return nil
}

// Vehicle is the last persisted state of a collection truck. The position
// here is what the backend stored, not live telemetry.
type Vehicle struct {
	ID               string  `json:"id"`
	DriverID         string  `json:"driverId"`
	DepotID          string  `json:"depotId"`
	CurrentLatitude  float64 `json:"currentLatitude"`
	CurrentLongitude float64 `json:"currentLongitude"`
	CurrentLoad      float64 `json:"currentLoad"`
	Capacity         float64 `json:"capacity,omitempty"`
	Status           string  `json:"status"`
}

// Position returns the persisted vehicle position.
func (v Vehicle) Position() Position {
	return Position{Latitude: v.CurrentLatitude, Longitude: v.CurrentLongitude}
}

// Depot is the base a vehicle starts from and returns to.
type Depot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Position returns the depot location.
func (d Depot) Position() Position {
	return Position{Latitude: d.Latitude, Longitude: d.Longitude}
}
