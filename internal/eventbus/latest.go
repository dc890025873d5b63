package eventbus

import "sync"

// Latest is a single-slot mailbox: Offer overwrites any value not yet taken,
// so a slow reader skips intermediate values but always sees the newest one.
type Latest[T any] struct {
	mu     sync.Mutex
	val    T
	has    bool
	ready  chan struct{}
	closed bool
}

// NewLatest creates an empty mailbox.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ready: make(chan struct{}, 1)}
}

// Offer stores v, replacing any pending value. It never blocks.
func (l *Latest[T]) Offer(v T) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.val = v
	l.has = true
	select {
	case l.ready <- struct{}{}:
	default:
	}
	l.mu.Unlock()
}

// Ready is signalled whenever a value may be waiting. It is closed by Close.
func (l *Latest[T]) Ready() <-chan struct{} { return l.ready }

// Take returns the pending value and clears the slot.
func (l *Latest[T]) Take() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.val, l.has
	var zero T
	l.val = zero
	l.has = false
	return v, ok
}

// Close drops the pending value and wakes the reader for the last time.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	var zero T
	l.val = zero
	l.has = false
	close(l.ready)
}
