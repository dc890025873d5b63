package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// RefetchInterval refetches the key periodically; zero disables it.
	RefetchInterval time.Duration
	// Retry applies to the reads started by this subscription.
	Retry *RetryPolicy
}

// Subscription follows one key. Its callback receives the current Result
// after every change; intermediate states may be skipped but the latest is
// always delivered.
type Subscription struct {
	store *Store
	key   Key
	fn    func(Result)
	opts  SubscribeOptions

	ctx    context.Context
	cancel context.CancelFunc

	changed *eventbus.Latest[struct{}]
	kick    chan struct{}

	wg   sync.WaitGroup
	once sync.Once
}

// Subscribe starts following k. A read is started right away when the key has
// no fresh value; a read already in flight is joined rather than repeated.
// The caller owns the subscription and must Close it.
func (s *Store) Subscribe(k Key, fn func(Result), opts SubscribeOptions) *Subscription {
	ctx, cancel := context.WithCancel(s.base)
	sub := &Subscription{
		store:   s,
		key:     append(Key(nil), k...),
		fn:      fn,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		changed: eventbus.NewLatest[struct{}](),
		kick:    make(chan struct{}, 1),
	}

	s.mu.Lock()
	e := s.entryLocked(k)
	e.subs[sub] = struct{}{}
	needFetch := !s.resultLocked(e).Fresh()
	s.mu.Unlock()

	sub.wg.Add(2)
	go sub.deliverLoop()
	go sub.fetchLoop()
	sub.changed.Offer(struct{}{})
	if needFetch {
		sub.refetch()
	}
	return sub
}

// Key returns the followed key.
func (sub *Subscription) Key() Key { return sub.key }

// Current returns the cached state of the followed key.
func (sub *Subscription) Current() Result { return sub.store.getQuiet(sub.key) }

// Close stops the subscription and cancels the reads it was waiting on. No
// callback runs after Close returns. Close must not be called from inside the
// callback.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		if e, ok := s.entries[sub.key.id()]; ok {
			delete(e.subs, sub)
		}
		s.mu.Unlock()
		sub.cancel()
		sub.changed.Close()
		sub.wg.Wait()
	})
}

func (sub *Subscription) refetch() {
	select {
	case sub.kick <- struct{}{}:
	default:
	}
}

func (sub *Subscription) deliverLoop() {
	defer sub.wg.Done()
	for range sub.changed.Ready() {
		if _, ok := sub.changed.Take(); !ok {
			continue
		}
		if sub.ctx.Err() != nil {
			return
		}
		if sub.fn != nil {
			sub.fn(sub.store.getQuiet(sub.key))
		}
	}
}

func (sub *Subscription) fetchLoop() {
	defer sub.wg.Done()
	var tick <-chan time.Time
	if sub.opts.RefetchInterval > 0 {
		t := time.NewTicker(sub.opts.RefetchInterval)
		defer t.Stop()
		tick = t.C
	}
	var opts []FetchOption
	if sub.opts.Retry != nil {
		opts = append(opts, WithRetry(*sub.opts.Retry))
	}
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.kick:
		case <-tick:
		}
		// Errors are recorded on the entry and reach the callback there.
		_, _ = sub.store.Fetch(sub.ctx, sub.key, opts...)
	}
}
