package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/metrics"
	"github.com/kilianp07/dispatchsync/core/model"
)

type fakeConn struct {
	lost   chan struct{}
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Lost() <-chan struct{} { return c.lost }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSource struct {
	mu       sync.Mutex
	opens    map[string]int
	handlers map[string]Handler
	conns    map[string]*fakeConn
	failures int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		opens:    make(map[string]int),
		handlers: make(map[string]Handler),
		conns:    make(map[string]*fakeConn),
	}
}

func (s *fakeSource) Open(_ context.Context, id string, h Handler) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[id]++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("broker unavailable")
	}
	c := &fakeConn{lost: make(chan struct{})}
	s.handlers[id] = h
	s.conns[id] = c
	return c, nil
}

func (s *fakeSource) openCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[id]
}

func (s *fakeSource) conn(id string) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *fakeSource) push(t *testing.T, id string, sample model.TelemetrySample) {
	t.Helper()
	var h Handler
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		h = s.handlers[id]
		return h != nil
	}, time.Second, time.Millisecond)
	h(sample)
}

type recorder struct {
	mu      sync.Mutex
	samples []model.TelemetrySample
}

func (r *recorder) fn(s model.TelemetrySample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recorder) last() (model.TelemetrySample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return model.TelemetrySample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type telemetryMetrics struct {
	metrics.NopSink
	mu        sync.Mutex
	discarded int
	feeds     []int
}

func (m *telemetryMetrics) RecordTelemetry(ev metrics.TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Discarded {
		m.discarded++
	}
	return nil
}

func (m *telemetryMetrics) RecordOpenFeeds(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, n)
	return nil
}

func sample(lat, lon float64, seq uint64) model.TelemetrySample {
	return model.TelemetrySample{Latitude: lat, Longitude: lon, Seq: seq}
}

func TestOutOfOrderSampleIsDiscarded(t *testing.T) {
	src := newFakeSource()
	m := &telemetryMetrics{}
	ch := NewChannel(src, Options{Metrics: m})
	defer ch.Close()

	rec := &recorder{}
	h, err := ch.Subscribe("V", rec.fn)
	require.NoError(t, err)
	defer h.Unsubscribe()

	src.push(t, "V", sample(10, 20, 2))
	src.push(t, "V", sample(99, 99, 1))

	latest, ok := ch.Latest("V")
	require.True(t, ok)
	assert.Equal(t, model.Position{Latitude: 10, Longitude: 20}, latest.Position())
	assert.Equal(t, "V", latest.VehicleID)

	require.Eventually(t, func() bool { _, ok := rec.last(); return ok }, time.Second, time.Millisecond)
	got, _ := rec.last()
	assert.Equal(t, uint64(2), got.Seq)

	m.mu.Lock()
	assert.Equal(t, 1, m.discarded)
	m.mu.Unlock()
}

func TestSamplesWithoutSequenceUseArrivalOrder(t *testing.T) {
	src := newFakeSource()
	ch := NewChannel(src, Options{})
	defer ch.Close()

	h, err := ch.Subscribe("V", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()

	src.push(t, "V", sample(1, 1, 0))
	src.push(t, "V", sample(2, 2, 0))

	latest, ok := ch.Latest("V")
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Latitude)
	assert.Equal(t, uint64(2), latest.Seq)
}

func TestFeedIsSharedAndReleasedWithLastSubscriber(t *testing.T) {
	src := newFakeSource()
	m := &telemetryMetrics{}
	ch := NewChannel(src, Options{Metrics: m})
	defer ch.Close()

	first, second := &recorder{}, &recorder{}
	h1, err := ch.Subscribe("V", first.fn)
	require.NoError(t, err)
	h2, err := ch.Subscribe("V", second.fn)
	require.NoError(t, err)

	src.push(t, "V", sample(1, 1, 1))
	assert.Equal(t, 1, src.openCount("V"))
	assert.Equal(t, 2, ch.Subscribers("V"))

	h1.Unsubscribe()
	assert.Equal(t, 1, ch.OpenFeeds())
	conn := src.conn("V")
	assert.False(t, conn.isClosed())

	src.push(t, "V", sample(2, 2, 2))
	require.Eventually(t, func() bool {
		s, ok := second.last()
		return ok && s.Seq == 2
	}, time.Second, time.Millisecond)

	h2.Unsubscribe()
	assert.Equal(t, 0, ch.OpenFeeds())
	assert.True(t, conn.isClosed())

	before := second.count()
	src.push(t, "V", sample(3, 3, 3))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, second.count())
	_, ok := ch.Latest("V")
	assert.False(t, ok)

	m.mu.Lock()
	assert.Equal(t, []int{1, 0}, m.feeds)
	m.mu.Unlock()
}

func TestLateSubscriberGetsLatestSample(t *testing.T) {
	src := newFakeSource()
	ch := NewChannel(src, Options{})
	defer ch.Close()

	h1, err := ch.Subscribe("V", nil)
	require.NoError(t, err)
	defer h1.Unsubscribe()
	src.push(t, "V", sample(5, 6, 7))

	rec := &recorder{}
	h2, err := ch.Subscribe("V", rec.fn)
	require.NoError(t, err)
	defer h2.Unsubscribe()

	require.Eventually(t, func() bool { _, ok := rec.last(); return ok }, time.Second, time.Millisecond)
	got, _ := rec.last()
	assert.Equal(t, uint64(7), got.Seq)
}

func TestOpenFailuresAreRetried(t *testing.T) {
	src := newFakeSource()
	src.failures = 2
	ch := NewChannel(src, Options{ReconnectInitial: time.Millisecond, ReconnectMax: 5 * time.Millisecond})
	defer ch.Close()

	h, err := ch.Subscribe("V", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()

	require.Eventually(t, func() bool { return src.conn("V") != nil }, time.Second, time.Millisecond)
	assert.Equal(t, 3, src.openCount("V"))
}

func TestConnectionLossKeepsLastSampleAndReconnects(t *testing.T) {
	src := newFakeSource()
	ch := NewChannel(src, Options{ReconnectInitial: time.Millisecond, ReconnectMax: 5 * time.Millisecond})
	defer ch.Close()

	h, err := ch.Subscribe("V", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()

	src.push(t, "V", sample(10, 20, 1))
	first := src.conn("V")
	close(first.lost)

	require.Eventually(t, func() bool { return src.openCount("V") == 2 }, time.Second, time.Millisecond)
	latest, ok := ch.Latest("V")
	require.True(t, ok)
	assert.Equal(t, 10.0, latest.Latitude)
	assert.True(t, first.isClosed())

	require.Eventually(t, func() bool { return src.conn("V") != first }, time.Second, time.Millisecond)
	src.push(t, "V", sample(11, 21, 2))
	latest, _ = ch.Latest("V")
	assert.Equal(t, 11.0, latest.Latitude)
}

func TestClosedChannelRejectsSubscribe(t *testing.T) {
	ch := NewChannel(newFakeSource(), Options{})
	h, err := ch.Subscribe("V", nil)
	require.NoError(t, err)

	ch.Close()
	assert.Equal(t, 0, ch.OpenFeeds())
	h.Unsubscribe()

	_, err = ch.Subscribe("V", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
