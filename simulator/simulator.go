// Package simulator drives the vehicles of the current dispatch along their
// remaining paths and publishes their positions as live telemetry. It is used
// for demos and end to end checks of the board without real trucks.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

const (
	DefaultSpeedKmh = 30.0
	DefaultTick     = time.Second
)

// Completer marks stops and routes done. *mutation.Coordinator satisfies it.
type Completer interface {
	MarkOrderDone(ctx context.Context, orderID string) error
	MarkRouteDone(ctx context.Context, routeID string) error
}

// Options tunes the simulation.
type Options struct {
	SpeedKmh float64
	Tick     time.Duration
	// Complete marks each order done on arrival and the route done once its
	// last stop is reached. Without it vehicles wait at their next stop.
	Complete bool
	Logger   logger.Logger
	Now      func() time.Time
}

type truck struct {
	pos  model.Position
	load float64
	seq  uint64
}

// Simulator moves one truck per in-progress route of the current dispatch.
type Simulator struct {
	store  *snapshot.Store
	writer telemetry.Writer
	done   Completer
	opts   Options
	log    logger.Logger

	mu     sync.Mutex
	trucks map[string]*truck
}

// New returns a simulator reading routes through store and publishing on w.
// done may be nil when Complete is off.
func New(store *snapshot.Store, w telemetry.Writer, done Completer, opts Options) *Simulator {
	if opts.SpeedKmh <= 0 {
		opts.SpeedKmh = DefaultSpeedKmh
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulator{
		store:  store,
		writer: w,
		done:   done,
		opts:   opts,
		log:    logger.OrNop(opts.Logger),
		trucks: make(map[string]*truck),
	}
}

// Run steps the simulation on every tick until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if s.writer == nil {
		return fmt.Errorf("simulator: telemetry writer is required")
	}
	if s.opts.Complete && s.done == nil {
		return fmt.Errorf("simulator: completion needs a completer")
	}
	t := time.NewTicker(s.opts.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.Step(ctx, s.opts.Tick); err != nil && ctx.Err() == nil {
				s.log.Warnf("simulator step: %v", err)
			}
		}
	}
}

// Step advances every in-progress route of the current dispatch by elapsed
// driving time and publishes one sample per vehicle.
func (s *Simulator) Step(ctx context.Context, elapsed time.Duration) error {
	cur, err := snapshot.LoadAs[*model.Dispatch](ctx, s.store, backend.CurrentDispatchKey())
	if err != nil {
		return fmt.Errorf("current dispatch: %w", err)
	}
	if cur == nil {
		return nil
	}
	routes, err := snapshot.LoadAs[[]model.Route](ctx, s.store, backend.DispatchRoutesKey(cur.ID))
	if err != nil {
		return fmt.Errorf("routes of %s: %w", cur.ID, err)
	}
	for _, r := range routes {
		if r.Status == model.RouteCompleted || r.VehicleID == "" {
			continue
		}
		if err := s.advance(ctx, r, elapsed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) truck(ctx context.Context, vehicleID string) (*truck, error) {
	s.mu.Lock()
	t, ok := s.trucks[vehicleID]
	s.mu.Unlock()
	if ok {
		return t, nil
	}
	v, err := snapshot.LoadAs[model.Vehicle](ctx, s.store, backend.VehicleKey(vehicleID))
	if err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	t = &truck{pos: v.Position(), load: v.CurrentLoad}
	s.mu.Lock()
	s.trucks[vehicleID] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Simulator) advance(ctx context.Context, r model.Route, elapsed time.Duration) error {
	t, err := s.truck(ctx, r.VehicleID)
	if err != nil {
		return err
	}
	var stops []model.Order
	for _, o := range projection.RemainingPath(r, nil).Stops {
		if !o.Terminal() {
			stops = append(stops, o)
		}
	}

	budget := s.opts.SpeedKmh * elapsed.Hours()
	for len(stops) > 0 {
		next := stops[0]
		d := projection.Distance(t.pos, next.Position())
		if d > budget {
			t.pos = towards(t.pos, next.Position(), budget/d)
			break
		}
		budget -= d
		t.pos = next.Position()
		if !s.opts.Complete {
			break
		}
		if err := s.done.MarkOrderDone(ctx, next.ID); err != nil {
			s.log.Warnf("simulator: vehicle %s at order %s: %v", r.VehicleID, next.ID, err)
			break
		}
		t.load += next.Weight
		stops = stops[1:]
		s.log.Debugw("order collected", map[string]any{"vehicle": r.VehicleID, "order": next.ID, "route": r.ID})
	}

	if err := s.publish(ctx, r.VehicleID, t); err != nil {
		return err
	}
	if s.opts.Complete && len(stops) == 0 {
		if err := s.done.MarkRouteDone(ctx, r.ID); err != nil {
			s.log.Warnf("simulator: route %s: %v", r.ID, err)
			return nil
		}
		s.log.Infof("simulator: vehicle %s finished route %s", r.VehicleID, r.ID)
	}
	return nil
}

func (s *Simulator) publish(ctx context.Context, vehicleID string, t *truck) error {
	seq := uint64(s.opts.Now().UnixMilli())
	if seq <= t.seq {
		seq = t.seq + 1
	}
	sample := model.TelemetrySample{
		VehicleID: vehicleID,
		Latitude:  t.pos.Latitude,
		Longitude: t.pos.Longitude,
		Load:      t.load,
		Seq:       seq,
	}
	if err := s.writer.Publish(ctx, sample); err != nil {
		return fmt.Errorf("publish %s: %w", vehicleID, err)
	}
	t.seq = seq
	return nil
}

// towards moves from a fraction f of the way to b. Legs are short enough for
// linear interpolation of the coordinates.
func towards(a, b model.Position, f float64) model.Position {
	return model.Position{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*f,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*f,
	}
}
