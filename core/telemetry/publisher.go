package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
)

// DefaultPublishInterval is how often a driver's device reports its position.
const DefaultPublishInterval = 10 * time.Second

// PositionFunc reads the local vehicle's current position and load.
type PositionFunc func(ctx context.Context) (model.TelemetrySample, error)

// Publisher periodically pushes the local vehicle's position. It lives only
// as long as the context handed to Run.
type Publisher struct {
	VehicleID string
	Interval  time.Duration
	Read      PositionFunc
	Writer    Writer
	Logger    logger.Logger
	Now       func() time.Time

	lastSeq uint64
}

// Run publishes once immediately and then on every tick until ctx is done.
// Failed reads or publishes are logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	if p.Writer == nil || p.Read == nil {
		return fmt.Errorf("telemetry publisher for %q: reader and writer are required", p.VehicleID)
	}
	log := logger.OrNop(p.Logger)
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPublishInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("telemetry publish for %s: %v", p.VehicleID, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// PublishOnce reads and publishes a single sample. Sequence numbers are the
// publish time in milliseconds, bumped when the clock does not move forward.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	s, err := p.Read(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	s.VehicleID = p.VehicleID
	s.ReceivedAt = time.Time{}
	s.Seq = uint64(now.UnixMilli())
	if s.Seq <= p.lastSeq {
		s.Seq = p.lastSeq + 1
	}
	if err := p.Writer.Publish(ctx, s); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.lastSeq = s.Seq
	return nil
}
