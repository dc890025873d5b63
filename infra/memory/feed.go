package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

// Feed is an in-process telemetry transport. Published samples go through
// the wire codec so subscribers see exactly what a broker would deliver.
type Feed struct {
	mu    sync.Mutex
	conns map[string]map[*feedConn]struct{}
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{conns: make(map[string]map[*feedConn]struct{})}
}

var (
	_ telemetry.Source = (*Feed)(nil)
	_ telemetry.Writer = (*Feed)(nil)
)

type feedConn struct {
	feed      *Feed
	vehicleID string
	h         telemetry.Handler
	lost      chan struct{}
	once      sync.Once
}

func (c *feedConn) Lost() <-chan struct{} { return c.lost }

func (c *feedConn) Close() error {
	c.feed.mu.Lock()
	delete(c.feed.conns[c.vehicleID], c)
	if len(c.feed.conns[c.vehicleID]) == 0 {
		delete(c.feed.conns, c.vehicleID)
	}
	c.feed.mu.Unlock()
	return nil
}

// Open subscribes h to vehicleID.
func (f *Feed) Open(ctx context.Context, vehicleID string, h telemetry.Handler) (telemetry.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &feedConn{feed: f, vehicleID: vehicleID, h: h, lost: make(chan struct{})}
	f.mu.Lock()
	if f.conns[vehicleID] == nil {
		f.conns[vehicleID] = make(map[*feedConn]struct{})
	}
	f.conns[vehicleID][c] = struct{}{}
	f.mu.Unlock()
	return c, nil
}

// Publish delivers s to every open connection of its vehicle.
func (f *Feed) Publish(ctx context.Context, s model.TelemetrySample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := telemetry.Encode(s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	targets := make([]*feedConn, 0, len(f.conns[s.VehicleID]))
	for c := range f.conns[s.VehicleID] {
		targets = append(targets, c)
	}
	f.mu.Unlock()

	for _, c := range targets {
		in, err := telemetry.Decode(s.VehicleID, data, time.Now())
		if err != nil {
			return err
		}
		c.h(in)
	}
	return nil
}

// Drop simulates a broker disconnect for vehicleID.
func (f *Feed) Drop(vehicleID string) {
	f.mu.Lock()
	conns := f.conns[vehicleID]
	delete(f.conns, vehicleID)
	f.mu.Unlock()
	for c := range conns {
		c.once.Do(func() { close(c.lost) })
	}
}

// Connections returns the number of open connections for vehicleID.
func (f *Feed) Connections(vehicleID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[vehicleID])
}
