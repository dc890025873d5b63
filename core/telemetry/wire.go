package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/dispatchsync/core/model"
)

// Payload is the wire form of a sample. Seq and TS are optional; the channel
// orders by Seq, then by TS in milliseconds, then by arrival.
type Payload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Load      float64 `json:"load"`
	Seq       uint64  `json:"seq,omitempty"`
	TS        int64   `json:"ts,omitempty"`
}

// Decode parses a payload received for vehicleID.
func Decode(vehicleID string, data []byte, now time.Time) (model.TelemetrySample, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.TelemetrySample{}, fmt.Errorf("decode telemetry for %s: %w", vehicleID, err)
	}
	s := model.TelemetrySample{
		VehicleID:  vehicleID,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Load:       p.Load,
		Seq:        p.Seq,
		ReceivedAt: now,
	}
	if s.Seq == 0 && p.TS > 0 {
		s.Seq = uint64(p.TS)
	}
	if err := s.Position().Validate(); err != nil {
		return model.TelemetrySample{}, fmt.Errorf("telemetry for %s: %w", vehicleID, err)
	}
	return s, nil
}

// Encode renders s in wire form.
func Encode(s model.TelemetrySample) ([]byte, error) {
	return json.Marshal(Payload{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Load:      s.Load,
		Seq:       s.Seq,
	})
}
