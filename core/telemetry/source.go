package telemetry

import (
	"context"

	"github.com/kilianp07/dispatchsync/core/model"
)

// Handler receives samples from a Conn. It may be called from any goroutine.
type Handler func(model.TelemetrySample)

// Conn is one open push connection for a single vehicle.
type Conn interface {
	// Lost is closed when the connection drops without Close being called.
	Lost() <-chan struct{}
	Close() error
}

// Source opens push connections.
type Source interface {
	Open(ctx context.Context, vehicleID string, h Handler) (Conn, error)
}

// Writer publishes samples on the push transport.
type Writer interface {
	Publish(ctx context.Context, s model.TelemetrySample) error
}
