// Package view ties cache subscriptions, telemetry handles and background
// tasks to one owner. Closing a View cancels its pending reads and releases
// everything it opened, so nothing it started can call back afterwards.
package view

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

// ErrClosed is returned once the view has been closed.
var ErrClosed = errors.New("view: closed")

// View owns the resources opened on behalf of one screen or client.
type View struct {
	store   *snapshot.Store
	channel *telemetry.Channel
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu      sync.Mutex
	subs    map[*snapshot.Subscription]struct{}
	handles map[*telemetry.Handle]struct{}
	closed  bool
}

// New creates a view living at most as long as parent. channel may be nil
// for views without live telemetry.
func New(parent context.Context, store *snapshot.Store, channel *telemetry.Channel, log logger.Logger) *View {
	ctx, cancel := context.WithCancel(parent)
	return &View{
		store:   store,
		channel: channel,
		log:     logger.OrNop(log),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[*snapshot.Subscription]struct{}),
		handles: make(map[*telemetry.Handle]struct{}),
	}
}

// Context is cancelled when the view closes.
func (v *View) Context() context.Context { return v.ctx }

// Load reads k with the view's context, so closing the view abandons it.
func (v *View) Load(k snapshot.Key, opts ...snapshot.FetchOption) (snapshot.Result, error) {
	return v.store.Load(v.ctx, k, opts...)
}

// Watch subscribes to k for the lifetime of the view.
func (v *View) Watch(k snapshot.Key, fn func(snapshot.Result), opts snapshot.SubscribeOptions) (*snapshot.Subscription, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	sub := v.store.Subscribe(k, fn, opts)
	v.subs[sub] = struct{}{}
	return sub, nil
}

// Unwatch closes sub before the view itself closes.
func (v *View) Unwatch(sub *snapshot.Subscription) {
	v.mu.Lock()
	_, ok := v.subs[sub]
	delete(v.subs, sub)
	v.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Track follows the live telemetry of vehicleID.
func (v *View) Track(vehicleID string, fn func(model.TelemetrySample)) (*telemetry.Handle, error) {
	if v.channel == nil {
		return nil, errors.New("view: no telemetry channel")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	h, err := v.channel.Subscribe(vehicleID, fn)
	if err != nil {
		return nil, err
	}
	v.handles[h] = struct{}{}
	return h, nil
}

// Untrack releases h before the view itself closes.
func (v *View) Untrack(h *telemetry.Handle) {
	v.mu.Lock()
	_, ok := v.handles[h]
	delete(v.handles, h)
	v.mu.Unlock()
	if ok {
		h.Unsubscribe()
	}
}

// Latest returns the freshest telemetry sample of vehicleID, if tracked.
func (v *View) Latest(vehicleID string) (model.TelemetrySample, bool) {
	if v.channel == nil {
		return model.TelemetrySample{}, false
	}
	return v.channel.Latest(vehicleID)
}

// Go runs task until it returns or the view closes. Errors other than
// cancellation are logged.
func (v *View) Go(name string, task func(ctx context.Context) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.tasks.Add(1)
	go func() {
		defer v.tasks.Done()
		if err := task(v.ctx); err != nil && !errors.Is(err, context.Canceled) {
			v.log.Errorf("view task %s: %v", name, err)
		}
	}()
	return nil
}

// Close cancels pending reads, waits for tasks and releases every
// subscription and handle. It is safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	subs, handles := v.subs, v.handles
	v.subs, v.handles = nil, nil
	v.mu.Unlock()

	v.cancel()
	v.tasks.Wait()
	for sub := range subs {
		sub.Close()
	}
	for h := range handles {
		h.Unsubscribe()
	}
}

// Open returns the number of live subscriptions and telemetry handles.
func (v *View) Open() (subs, handles int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs), len(v.handles)
}
