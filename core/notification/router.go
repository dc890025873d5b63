package notification

import (
	"context"
	"time"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// Router applies notifications to the snapshot store.
type Router struct {
	store  *snapshot.Store
	toasts *eventbus.TypedBus[Toast]
	log    logger.Logger

	// RefetchTimeout bounds the wait for subscribed keys after an
	// invalidation. Zero skips the wait.
	RefetchTimeout time.Duration
}

// NewRouter creates a Router. toasts may be nil.
func NewRouter(store *snapshot.Store, toasts *eventbus.TypedBus[Toast], log logger.Logger) *Router {
	return &Router{store: store, toasts: toasts, log: logger.OrNop(log), RefetchTimeout: 5 * time.Second}
}

// Handle invalidates what n affects and publishes its toast. It returns the
// invalidated prefixes.
func (r *Router) Handle(ctx context.Context, n Notification) []snapshot.Key {
	keys := Invalidations(n)
	if !n.Kind.Known() {
		r.log.Warnf("notification %q has no targeted invalidation, refreshing everything", n.Kind)
	}
	total := 0
	for _, k := range keys {
		total += r.store.Invalidate(k)
	}
	r.log.Debugf("notification %s invalidated %d entries", n.Kind, total)

	if r.RefetchTimeout > 0 {
		rctx, cancel := context.WithTimeout(ctx, r.RefetchTimeout)
		if err := r.store.RefetchActive(rctx, keys...); err != nil {
			r.log.Warnf("refetch after notification %s: %v", n.Kind, err)
		}
		cancel()
	}
	if r.toasts != nil {
		r.toasts.Publish(ToastFor(n))
	}
	return keys
}

// HandleRaw decodes and handles a push payload. A payload that cannot be
// decoded still refreshes the whole cache so no update is lost.
func (r *Router) HandleRaw(ctx context.Context, data []byte) error {
	n, err := Decode(data)
	if err != nil {
		r.log.Warnf("%v", err)
		r.store.InvalidateAll()
		return err
	}
	r.Handle(ctx, n)
	return nil
}
