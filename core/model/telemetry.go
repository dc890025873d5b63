package model

import "time"

// TelemetrySample is one live position/load reading pushed by a vehicle.
// Samples are never persisted; Seq orders samples of the same vehicle.
type TelemetrySample struct {
	VehicleID  string    `json:"vehicleId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Load       float64   `json:"load"`
	Seq        uint64    `json:"seq,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Position returns the sampled position.
func (s TelemetrySample) Position() Position {
	return Position{Latitude: s.Latitude, Longitude: s.Longitude}
}

// NewerThan reports whether s supersedes prev for display.
func (s TelemetrySample) NewerThan(prev TelemetrySample) bool { return s.Seq > prev.Seq }
