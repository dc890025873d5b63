package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/metrics"
)

var (
	// ErrNoResolver is returned when no fetcher is known for a key.
	ErrNoResolver = errors.New("snapshot: no fetcher for key")
	// ErrClosed is returned by Fetch once the store has been closed.
	ErrClosed = errors.New("snapshot: store closed")
)

// Fetcher performs the network read backing one key.
type Fetcher func(ctx context.Context) (any, error)

// Resolver maps a key to the read that produces its value.
type Resolver interface {
	Resolve(key Key) (Fetcher, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(Key) (Fetcher, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(k Key) (Fetcher, error) { return f(k) }

// Options configures a Store.
type Options struct {
	// StaleTime marks values stale once they are older than this. Zero means
	// values only go stale through Invalidate.
	StaleTime time.Duration
	Logger    logger.Logger
	Metrics   metrics.CacheRecorder
	Now       func() time.Time
}

type entry struct {
	key       Key
	value     any
	has       bool
	err       error
	stale     bool
	gen       uint64
	loading   int
	updatedAt time.Time
	subs      map[*Subscription]struct{}
	// running is the read currently on the network for this key.
	running *flight
}

// flight tracks who waits on one in-flight read so that the read can be
// cancelled when every waiter has gone away.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int
	running bool
}

func newFlight(base context.Context) *flight {
	ctx, cancel := context.WithCancel(base)
	return &flight{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Store is the process-wide snapshot cache. It is safe for concurrent use.
type Store struct {
	resolver Resolver
	opts     Options
	log      logger.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	closed  bool

	base   context.Context
	cancel context.CancelFunc
}

// New creates a Store resolving keys with r.
func New(r Resolver, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Store{
		resolver: r,
		opts:     opts,
		log:      logger.OrNop(opts.Logger),
		entries:  make(map[string]*entry),
		flights:  make(map[string]*flight),
		base:     base,
		cancel:   cancel,
	}
}

// Close cancels every in-flight read. Subscriptions must still be closed by
// their owners.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Store) entryLocked(k Key) *entry {
	id := k.id()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), k...), subs: make(map[*Subscription]struct{})}
		s.entries[id] = e
	}
	return e
}

func (s *Store) resultLocked(e *entry) Result {
	stale := e.stale
	if !stale && e.has && s.opts.StaleTime > 0 && s.opts.Now().Sub(e.updatedAt) > s.opts.StaleTime {
		stale = true
	}
	return Result{
		Key:       e.key,
		Value:     e.value,
		HasValue:  e.has,
		IsStale:   stale,
		IsLoading: e.loading > 0,
		IsError:   e.err != nil,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
	}
}

// Get returns the cached state of k without touching the network.
func (s *Store) Get(k Key) Result {
	s.mu.Lock()
	e, ok := s.entries[k.id()]
	var r Result
	if ok {
		r = s.resultLocked(e)
	} else {
		r = Result{Key: k}
	}
	s.mu.Unlock()
	kind := metrics.CacheMiss
	if r.Fresh() {
		kind = metrics.CacheHit
	}
	s.record(metrics.CacheEvent{Resource: k.Resource(), Kind: kind, Count: 1})
	return r
}

// Load returns the cached value when it is fresh and fetches it otherwise.
func (s *Store) Load(ctx context.Context, k Key, opts ...FetchOption) (Result, error) {
	if r := s.Get(k); r.Fresh() {
		return r, nil
	}
	return s.Fetch(ctx, k, opts...)
}

// Fetch reads k from the network and caches the outcome. Concurrent calls for
// the same key share one request, and a key never has two requests out at
// once. Invalidate cancels the request in flight; callers waiting on it read
// again once it has returned. If ctx ends first the caller stops waiting; the
// request is cancelled once no caller waits on it.
func (s *Store) Fetch(ctx context.Context, k Key, opts ...FetchOption) (Result, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	var err error
	// A request abandoned by all of its earlier waiters ends with
	// context.Canceled; a caller that is still alive tries once more.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.fetchOnce(ctx, k, o)
		if !errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
	}
	return s.getQuiet(k), err
}

func (s *Store) getQuiet(k Key) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k.id()]; ok {
		return s.resultLocked(e)
	}
	return Result{Key: k}
}

func (s *Store) fetchOnce(ctx context.Context, k Key, o fetchOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e := s.entryLocked(k)
	gen := e.gen
	fk := k.id() + "#" + strconv.FormatUint(gen, 10)
	fl, ok := s.flights[fk]
	if !ok {
		fl = newFlight(s.base)
		s.flights[fk] = fl
	}
	fl.waiters++
	s.mu.Unlock()

	ch := s.group.DoChan(fk, func() (any, error) {
		return s.run(k, fk, gen, o)
	})
	select {
	case res := <-ch:
		s.leave(fk, fl, false)
		return res.Err
	case <-ctx.Done():
		s.leave(fk, fl, true)
		return ctx.Err()
	}
}

func (s *Store) leave(fk string, fl *flight, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if fl.running {
		if abandoned {
			fl.cancel()
		}
		return
	}
	if s.flights[fk] == fl {
		delete(s.flights, fk)
	}
	fl.cancel()
}

func (s *Store) run(k Key, fk string, gen uint64, o fetchOptions) (any, error) {
	s.mu.Lock()
	fl, ok := s.flights[fk]
	if !ok {
		fl = newFlight(s.base)
		s.flights[fk] = fl
	}
	ctx := fl.ctx
	e := s.entryLocked(k)
	// Wait for the read of an older generation to return.
	for e.running != nil && e.running != fl && ctx.Err() == nil {
		prev := e.running.done
		s.mu.Unlock()
		select {
		case <-prev:
		case <-ctx.Done():
		}
		s.mu.Lock()
	}
	if ctx.Err() != nil || gen != e.gen {
		// Abandoned or superseded before reaching the network.
		if s.flights[fk] == fl {
			delete(s.flights, fk)
		}
		s.mu.Unlock()
		fl.cancel()
		close(fl.done)
		return nil, context.Canceled
	}
	e.running = fl
	fl.running = true
	e.loading++
	s.notifyLocked(e)
	s.mu.Unlock()

	start := s.opts.Now()
	val, err := s.resolveAndFetch(ctx, k, o)
	elapsed := s.opts.Now().Sub(start)

	s.mu.Lock()
	e.loading--
	// Invalidate cancels the running read, so a result from a superseded
	// generation is dropped even when the fetcher ignored the cancellation.
	cancelled := ctx.Err() != nil || gen != e.gen
	switch {
	case cancelled:
		val, err = nil, context.Canceled
	case err != nil:
		e.err = err
	default:
		e.value = val
		e.has = true
		e.updatedAt = s.opts.Now()
		e.stale = false
		e.err = nil
	}
	s.notifyLocked(e)
	if s.flights[fk] == fl {
		delete(s.flights, fk)
	}
	if e.running == fl {
		e.running = nil
	}
	fl.running = false
	s.mu.Unlock()
	fl.cancel()
	close(fl.done)

	switch {
	case cancelled:
		s.log.Debugf("fetch %s cancelled", k)
	case err != nil:
		s.log.Warnf("fetch %s failed: %v", k, err)
		s.record(metrics.CacheEvent{Resource: k.Resource(), Kind: metrics.CacheError, Duration: elapsed, Count: 1})
	default:
		s.record(metrics.CacheEvent{Resource: k.Resource(), Kind: metrics.CacheFetch, Duration: elapsed, Count: 1})
	}
	return val, err
}

func (s *Store) resolveAndFetch(ctx context.Context, k Key, o fetchOptions) (any, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("%w %s", ErrNoResolver, k)
	}
	fetch, err := s.resolver.Resolve(k)
	if err != nil {
		return nil, err
	}
	if fetch == nil {
		return nil, fmt.Errorf("%w %s", ErrNoResolver, k)
	}
	return o.retry.do(ctx, fetch)
}

// Invalidate marks every key under prefix stale and schedules a refetch for
// the subscribed ones. It returns the number of entries affected. Keys under
// a disjoint prefix are left alone.
func (s *Store) Invalidate(prefix Key) int {
	s.mu.Lock()
	n := 0
	var kick []*Subscription
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		n++
		e.stale = true
		e.gen++
		if e.running != nil {
			e.running.cancel()
		}
		s.notifyLocked(e)
		for sub := range e.subs {
			kick = append(kick, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range kick {
		sub.refetch()
	}
	s.record(metrics.CacheEvent{Resource: prefix.Resource(), Kind: metrics.CacheInvalidate, Count: n})
	s.log.Debugf("invalidated %d keys under %s", n, prefix)
	return n
}

// InvalidateAll marks the whole cache stale.
func (s *Store) InvalidateAll() int { return s.Invalidate(Key{}) }

// Active lists the keys under prefix that currently have subscribers.
func (s *Store) Active(prefix Key) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Key
	for _, e := range s.entries {
		if len(e.subs) > 0 && e.key.HasPrefix(prefix) {
			out = append(out, e.key)
		}
	}
	return out
}

// RefetchActive fetches every subscribed key under the prefixes and waits for
// all of them. It returns the first fetch error.
func (s *Store) RefetchActive(ctx context.Context, prefixes ...Key) error {
	seen := make(map[string]Key)
	for _, p := range prefixes {
		for _, k := range s.Active(p) {
			seen[k.id()] = k
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range seen {
		k := k
		g.Go(func() error {
			_, err := s.Fetch(gctx, k)
			return err
		})
	}
	return g.Wait()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// notifyLocked wakes the subscribers of e. Offer never blocks, so holding the
// store lock here is fine.
func (s *Store) notifyLocked(e *entry) {
	for sub := range e.subs {
		sub.changed.Offer(struct{}{})
	}
}

func (s *Store) record(ev metrics.CacheEvent) {
	if s.opts.Metrics == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.opts.Now()
	}
	if err := s.opts.Metrics.RecordCacheEvent(ev); err != nil {
		s.log.Errorf("cache metrics: %v", err)
	}
}
