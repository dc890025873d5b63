package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/metrics"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// ErrClosed is returned by Subscribe once the channel has been closed.
var ErrClosed = errors.New("telemetry: channel closed")

// Options configures a Channel.
type Options struct {
	Logger logger.Logger
	// Metrics receives one event per sample. When it also implements
	// metrics.FeedRecorder the number of open feeds is reported.
	Metrics metrics.TelemetryRecorder
	// ReconnectInitial and ReconnectMax bound the delay between attempts to
	// (re)open a feed.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Now              func() time.Time
}

func (o *Options) setDefaults() {
	o.Logger = logger.OrNop(o.Logger)
	if o.Metrics == nil {
		o.Metrics = metrics.NopSink{}
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Channel multiplexes per-vehicle push connections.
type Channel struct {
	src  Source
	opts Options
	log  logger.Logger

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

type feed struct {
	vehicleID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	subs   map[*Handle]struct{}
	latest model.TelemetrySample
	has    bool
}

// NewChannel creates a Channel opening connections through src.
func NewChannel(src Source, opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		src:   src,
		opts:  opts,
		log:   opts.Logger,
		feeds: make(map[string]*feed),
	}
}

// Subscribe registers fn for samples of vehicleID. The latest known sample,
// if any, is delivered right away. The returned Handle must be Unsubscribed.
func (c *Channel) Subscribe(vehicleID string, fn func(model.TelemetrySample)) (*Handle, error) {
	h := &Handle{
		ch:  c,
		fn:  fn,
		box: eventbus.NewLatest[model.TelemetrySample](),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	f, ok := c.feeds[vehicleID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &feed{
			vehicleID: vehicleID,
			ctx:       ctx,
			cancel:    cancel,
			done:      make(chan struct{}),
			subs:      make(map[*Handle]struct{}),
		}
		c.feeds[vehicleID] = f
		go c.run(f)
	}
	h.feed = f
	f.subs[h] = struct{}{}
	if f.has {
		h.box.Offer(f.latest)
	}
	open := len(c.feeds)
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("telemetry feed opened for vehicle %s", vehicleID)
		c.recordFeeds(open)
	}
	h.wg.Add(1)
	go h.deliverLoop()
	return h, nil
}

// Latest returns the freshest sample of an open feed.
func (c *Channel) Latest(vehicleID string) (model.TelemetrySample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.feeds[vehicleID]; ok && f.has {
		return f.latest, true
	}
	return model.TelemetrySample{}, false
}

// Subscribers returns the number of live handles for vehicleID.
func (c *Channel) Subscribers(vehicleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.feeds[vehicleID]; ok {
		return len(f.subs)
	}
	return 0
}

// OpenFeeds returns the number of vehicles with at least one subscriber.
func (c *Channel) OpenFeeds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.feeds)
}

// Close unsubscribes every handle and waits for all connections to close.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	var handles []*Handle
	for _, f := range c.feeds {
		for h := range f.subs {
			handles = append(handles, h)
		}
	}
	c.mu.Unlock()
	for _, h := range handles {
		h.Unsubscribe()
	}
}

// ingest applies s to the feed when it is newer than the displayed sample.
func (c *Channel) ingest(f *feed, s model.TelemetrySample) {
	s.VehicleID = f.vehicleID
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = c.opts.Now()
	}

	c.mu.Lock()
	if f.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if s.Seq == 0 {
		s.Seq = f.latest.Seq + 1
	}
	if f.has && !s.NewerThan(f.latest) {
		prev := f.latest.Seq
		c.mu.Unlock()
		c.log.Debugf("telemetry sample for %s discarded: seq %d not newer than %d", f.vehicleID, s.Seq, prev)
		c.record(s, true)
		return
	}
	f.latest = s
	f.has = true
	for h := range f.subs {
		h.box.Offer(s)
	}
	c.mu.Unlock()
	c.record(s, false)
}

// run keeps the feed connected until it is torn down. Open failures and lost
// connections are logged and retried; subscribers keep the last sample.
func (c *Channel) run(f *feed) {
	defer close(f.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax
	b.MaxElapsedTime = 0

	handler := func(s model.TelemetrySample) { c.ingest(f, s) }
	for {
		conn, err := c.src.Open(f.ctx, f.vehicleID, handler)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			c.log.Warnf("telemetry feed %s: open failed: %v", f.vehicleID, err)
		} else {
			b.Reset()
			select {
			case <-f.ctx.Done():
				if cerr := conn.Close(); cerr != nil {
					c.log.Warnf("telemetry feed %s: close: %v", f.vehicleID, cerr)
				}
				return
			case <-conn.Lost():
				c.log.Warnf("telemetry feed %s: connection lost, reconnecting", f.vehicleID)
				_ = conn.Close()
			}
		}

		t := time.NewTimer(b.NextBackOff())
		select {
		case <-f.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// release drops h from its feed and tears the feed down when it was the
// last subscriber.
func (c *Channel) release(h *Handle) {
	f := h.feed
	c.mu.Lock()
	delete(f.subs, h)
	last := len(f.subs) == 0
	if last {
		if cur, ok := c.feeds[f.vehicleID]; ok && cur == f {
			delete(c.feeds, f.vehicleID)
		}
		f.cancel()
		f.has = false
	}
	open := len(c.feeds)
	c.mu.Unlock()

	if last {
		<-f.done
		c.log.Debugf("telemetry feed closed for vehicle %s", f.vehicleID)
		c.recordFeeds(open)
	}
}

func (c *Channel) record(s model.TelemetrySample, discarded bool) {
	ev := metrics.TelemetryEvent{
		VehicleID: s.VehicleID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Load:      s.Load,
		Seq:       s.Seq,
		Discarded: discarded,
		Time:      s.ReceivedAt,
	}
	if err := c.opts.Metrics.RecordTelemetry(ev); err != nil {
		c.log.Debugf("record telemetry metric: %v", err)
	}
}

func (c *Channel) recordFeeds(n int) {
	if fr, ok := c.opts.Metrics.(metrics.FeedRecorder); ok {
		if err := fr.RecordOpenFeeds(n); err != nil {
			c.log.Debugf("record feed metric: %v", err)
		}
	}
}

// Handle is one subscriber's claim on a vehicle feed.
type Handle struct {
	ch   *Channel
	feed *feed
	fn   func(model.TelemetrySample)
	box  *eventbus.Latest[model.TelemetrySample]

	wg   sync.WaitGroup
	once sync.Once
}

// VehicleID returns the followed vehicle.
func (h *Handle) VehicleID() string { return h.feed.vehicleID }

// Unsubscribe releases the handle. No callback runs after it returns; it
// must not be called from inside the callback.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.box.Close()
		h.wg.Wait()
		h.ch.release(h)
	})
}

func (h *Handle) deliverLoop() {
	defer h.wg.Done()
	for range h.box.Ready() {
		s, ok := h.box.Take()
		if !ok {
			continue
		}
		if h.fn != nil {
			h.fn(s)
		}
	}
}
