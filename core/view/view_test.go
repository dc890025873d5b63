package view

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
	"github.com/kilianp07/dispatchsync/infra/memory"
)

type env struct {
	mem     *memory.Backend
	feed    *memory.Feed
	store   *snapshot.Store
	channel *telemetry.Channel
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := memory.New()
	mem.AddDepot(model.Depot{ID: "P", Latitude: 48.90, Longitude: 2.40})
	mem.AddVehicle(model.Vehicle{ID: "V1", DepotID: "P", CurrentLatitude: 48.80, CurrentLongitude: 2.30})
	mem.AddDispatch(model.Dispatch{ID: "D", Status: model.DispatchInProgress},
		model.Route{ID: "R1", VehicleID: "V1", Status: model.RouteInProgress, Orders: []model.Order{
			{ID: "O1", Status: model.OrderCompleted, Latitude: 48.81, Longitude: 2.31},
			{ID: "O2", Status: model.OrderInProgress, Latitude: 48.82, Longitude: 2.32},
		}},
	)
	feed := memory.NewFeed()
	e := &env{
		mem:     mem,
		feed:    feed,
		store:   snapshot.New(backend.NewResolver(mem), snapshot.Options{}),
		channel: telemetry.NewChannel(feed, telemetry.Options{}),
	}
	t.Cleanup(func() {
		e.channel.Close()
		e.store.Close()
	})
	return e
}

func TestCloseReleasesEverything(t *testing.T) {
	e := newEnv(t)
	v := New(context.Background(), e.store, e.channel, nil)

	var mu sync.Mutex
	calls := 0
	_, err := v.Watch(backend.OrderKey("O1"), func(snapshot.Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, snapshot.SubscribeOptions{})
	require.NoError(t, err)
	_, err = v.Track("V1", func(model.TelemetrySample) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	started := make(chan struct{})
	require.NoError(t, v.Go("ticker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	subs, handles := v.Open()
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, handles)
	require.Eventually(t, func() bool { return e.feed.Connections("V1") == 1 }, time.Second, time.Millisecond)

	v.Close()
	v.Close()

	assert.Equal(t, 0, e.channel.OpenFeeds())
	assert.Equal(t, 0, e.feed.Connections("V1"))
	assert.Empty(t, e.store.Active(snapshot.Key{}))
	assert.Error(t, v.Context().Err())

	mu.Lock()
	before := calls
	mu.Unlock()
	e.store.InvalidateAll()
	_ = e.feed.Publish(context.Background(), model.TelemetrySample{VehicleID: "V1", Latitude: 1, Longitude: 1, Seq: 9})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, before, calls, "no callback after Close")
	mu.Unlock()

	_, err = v.Watch(backend.OrderKey("O1"), nil, snapshot.SubscribeOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = v.Track("V1", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, v.Go("late", func(context.Context) error { return nil }), ErrClosed)
}

func TestTwoViewsShareTelemetryFeed(t *testing.T) {
	e := newEnv(t)
	a := New(context.Background(), e.store, e.channel, nil)
	b := New(context.Background(), e.store, e.channel, nil)

	_, err := a.Track("V1", nil)
	require.NoError(t, err)
	var mu sync.Mutex
	var got []model.TelemetrySample
	_, err = b.Track("V1", func(s model.TelemetrySample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.feed.Connections("V1") == 1 }, time.Second, time.Millisecond)

	a.Close()
	assert.Equal(t, 1, e.channel.OpenFeeds(), "channel stays open for the remaining view")

	require.NoError(t, e.feed.Publish(context.Background(), model.TelemetrySample{VehicleID: "V1", Latitude: 10, Longitude: 20, Seq: 1}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	b.Close()
	assert.Equal(t, 0, e.channel.OpenFeeds())
	require.NoError(t, e.feed.Publish(context.Background(), model.TelemetrySample{VehicleID: "V1", Latitude: 11, Longitude: 21, Seq: 2}))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestLoadIsAbandonedOnClose(t *testing.T) {
	gate := make(chan struct{})
	store := snapshot.New(snapshot.ResolverFunc(func(snapshot.Key) (snapshot.Fetcher, error) {
		return func(ctx context.Context) (any, error) {
			select {
			case <-gate:
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, nil
	}), snapshot.Options{})
	defer store.Close()
	defer close(gate)

	v := New(context.Background(), store, nil, nil)
	errc := make(chan error, 1)
	go func() {
		_, err := v.Load(snapshot.K("slow"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return store.Get(snapshot.K("slow")).IsLoading }, time.Second, time.Millisecond)
	v.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("load not abandoned")
	}
	assert.False(t, store.Get(snapshot.K("slow")).IsError)

	_, err := v.Track("V", nil)
	assert.Error(t, err)
}

func TestBoardFollowsDispatch(t *testing.T) {
	e := newEnv(t)
	v := New(context.Background(), e.store, e.channel, nil)
	defer v.Close()

	updates := make(chan projection.Board, 64)
	b, err := NewBoard(v, BoardOptions{OnChange: func(pb projection.Board) {
		select {
		case updates <- pb:
		default:
		}
	}})
	require.NoError(t, err)

	waitBoard := func(cond func(projection.Board) bool) projection.Board {
		t.Helper()
		var last projection.Board
		require.Eventually(t, func() bool {
			last = b.Current()
			return cond(last)
		}, 2*time.Second, 5*time.Millisecond)
		return last
	}

	board := waitBoard(func(pb projection.Board) bool {
		return len(pb.Routes) == 1 && pb.Routes[0].Position != nil && pb.Routes[0].Remaining.End != nil
	})
	assert.Equal(t, "D", board.Dispatch.ID)
	assert.Equal(t, 0.5, board.Routes[0].Progress)
	assert.Equal(t, projection.FromSnapshot, board.Routes[0].PositionSource)

	require.Eventually(t, func() bool { return e.feed.Connections("V1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, e.feed.Publish(context.Background(), model.TelemetrySample{VehicleID: "V1", Latitude: 48.85, Longitude: 2.35, Seq: 5}))
	board = waitBoard(func(pb projection.Board) bool {
		return len(pb.Routes) == 1 && pb.Routes[0].PositionSource == projection.FromTelemetry
	})
	assert.Equal(t, 48.85, board.Routes[0].Position.Latitude)

	require.NoError(t, e.mem.MarkOrderDone(context.Background(), "O2"))
	e.store.Invalidate(backend.RoutesKey())
	waitBoard(func(pb projection.Board) bool {
		return len(pb.Routes) == 1 && pb.Routes[0].Progress == 1 && pb.Routes[0].CanComplete
	})
	assert.NotEmpty(t, updates)

	v.Close()
	<-b.Done()
	assert.Equal(t, 0, e.channel.OpenFeeds())
}
