// Package mutation runs every state changing call against the backend and
// keeps the snapshot store consistent afterwards.
//
// A mutation is refused while an identical one is pending, then checked
// against the cached state, then sent. Nothing is written locally: on
// success the affected key prefixes are invalidated and the subscribed ones
// refetched before the call returns, so the next read reflects the write. On
// failure the cache is left as it was.
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/metrics"
	"github.com/kilianp07/dispatchsync/core/monitoring"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// Operation names a mutation.
type Operation string

const (
	CreateDispatch   Operation = "createDispatch"
	RerouteDispatch  Operation = "rerouteDispatch"
	MarkOrderDone    Operation = "markOrderDone"
	MarkRouteDone    Operation = "markRouteDone"
	MarkDispatchDone Operation = "markDispatchDone"
	CreateOrder      Operation = "createOrder"
	UpdateOrder      Operation = "updateOrder"
)

// Event is published on the bus after every attempt.
type Event struct {
	RequestID   string
	Op          Operation
	TargetID    string
	Outcome     metrics.MutationOutcome
	Err         error
	Invalidated []snapshot.Key
	Latency     time.Duration
	Time        time.Time
}

// Options configures a Coordinator. Every field is optional.
type Options struct {
	Logger  logger.Logger
	Metrics metrics.MetricsSink
	Monitor monitoring.Monitor
	Audit   audit.Store
	Events  *eventbus.TypedBus[Event]
	// RefetchTimeout bounds the wait for subscribed keys after a write.
	RefetchTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Coordinator serialises mutations per target and applies their
// invalidation sets.
type Coordinator struct {
	store *snapshot.Store
	api   backend.Writer
	opts  Options
	log   logger.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a Coordinator writing through api and invalidating store.
func New(store *snapshot.Store, api backend.Writer, opts Options) *Coordinator {
	opts.Logger = logger.OrNop(opts.Logger)
	opts.Monitor = monitoring.OrNop(opts.Monitor)
	if opts.Metrics == nil {
		opts.Metrics = metrics.NopSink{}
	}
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Coordinator{
		store:   store,
		api:     api,
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[string]struct{}),
	}
}

func pendingKey(op Operation, target string) string { return string(op) + "/" + target }

// IsPending reports whether op on target is running, so a view can keep
// its control disabled.
func (c *Coordinator) IsPending(op Operation, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[pendingKey(op, target)]
	return ok
}

func (c *Coordinator) acquire(op Operation, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := pendingKey(op, target)
	if _, ok := c.pending[k]; ok {
		return false
	}
	c.pending[k] = struct{}{}
	return true
}

func (c *Coordinator) release(op Operation, target string) {
	c.mu.Lock()
	delete(c.pending, pendingKey(op, target))
	c.mu.Unlock()
}

// step is the body of one mutation. check reads the cached state and
// returns a PreconditionError to refuse; write performs the backend call
// and returns the prefixes to invalidate.
type step struct {
	op     Operation
	target string
	check  func(ctx context.Context) error
	write  func(ctx context.Context) ([]snapshot.Key, error)
}

func (c *Coordinator) run(ctx context.Context, s step) error {
	start := c.opts.Now()
	ev := Event{RequestID: c.opts.NewID(), Op: s.op, TargetID: s.target}

	if !c.acquire(s.op, s.target) {
		ev.Outcome = metrics.OutcomeBusy
		ev.Err = ErrPending
		c.finish(ctx, ev, start)
		return ErrPending
	}
	defer c.release(s.op, s.target)

	if s.check != nil {
		if err := s.check(ctx); err != nil {
			ev.Err = err
			if IsPrecondition(err) {
				ev.Outcome = metrics.OutcomeRejected
				c.log.Infof("%s %s rejected: %v", s.op, s.target, err)
			} else {
				ev.Outcome = metrics.OutcomeFailed
				c.log.Errorf("%s %s: reading state: %v", s.op, s.target, err)
			}
			c.finish(ctx, ev, start)
			return err
		}
	}

	keys, err := s.write(ctx)
	if err != nil {
		ev.Outcome = metrics.OutcomeFailed
		ev.Err = err
		c.log.Errorf("%s %s failed: %v", s.op, s.target, err)
		if !errors.Is(err, context.Canceled) {
			c.opts.Monitor.CaptureException(err, map[string]string{
				"operation":  string(s.op),
				"target":     s.target,
				"request_id": ev.RequestID,
			})
		}
		c.finish(ctx, ev, start)
		return err
	}

	ev.Outcome = metrics.OutcomeOK
	ev.Invalidated = keys
	for _, k := range keys {
		c.store.Invalidate(k)
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefetchTimeout)
	if err := c.store.RefetchActive(rctx, keys...); err != nil {
		c.log.Warnf("%s %s: refetch after write: %v", s.op, s.target, err)
	}
	cancel()
	c.finish(ctx, ev, start)
	return nil
}

func (c *Coordinator) finish(ctx context.Context, ev Event, start time.Time) {
	ev.Time = c.opts.Now()
	ev.Latency = ev.Time.Sub(start)

	if err := c.opts.Metrics.RecordMutation(metrics.MutationEvent{
		RequestID:   ev.RequestID,
		Operation:   string(ev.Op),
		TargetID:    ev.TargetID,
		Outcome:     ev.Outcome,
		Latency:     ev.Latency,
		Invalidated: len(ev.Invalidated),
		Time:        ev.Time,
	}); err != nil {
		c.log.Debugf("record mutation metric: %v", err)
	}

	if c.opts.Audit != nil {
		rec := audit.Record{
			Timestamp: ev.Time,
			RequestID: ev.RequestID,
			Operation: string(ev.Op),
			TargetID:  ev.TargetID,
			Outcome:   string(ev.Outcome),
			LatencyMS: ev.Latency.Milliseconds(),
		}
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
		for _, k := range ev.Invalidated {
			rec.Invalidated = append(rec.Invalidated, k.String())
		}
		if err := c.opts.Audit.Append(context.WithoutCancel(ctx), rec); err != nil {
			c.log.Warnf("audit %s: %v", ev.RequestID, err)
		}
	}

	if c.opts.Events != nil {
		c.opts.Events.Publish(ev)
	}
}
