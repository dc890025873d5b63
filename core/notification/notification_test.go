package notification

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

func counting(calls *atomic.Int64) snapshot.Resolver {
	return snapshot.ResolverFunc(func(k snapshot.Key) (snapshot.Fetcher, error) {
		return func(context.Context) (any, error) {
			calls.Add(1)
			return k.String(), nil
		}, nil
	})
}

func warm(t *testing.T, s *snapshot.Store, keys ...snapshot.Key) {
	t.Helper()
	for _, k := range keys {
		_, err := s.Fetch(context.Background(), k)
		require.NoError(t, err)
	}
}

func TestInvalidationsAreTargeted(t *testing.T) {
	tests := []struct {
		name  string
		n     Notification
		stale []snapshot.Key
		fresh []snapshot.Key
	}{
		{
			name:  "order completed on a known route",
			n:     Notification{Kind: OrderCompleted, OrderID: "O1", DispatchID: "D", VehicleID: "V", UserID: "U"},
			stale: []snapshot.Key{backend.OrderKey("O1"), backend.DispatchRoutesKey("D"), backend.VehicleRoutesKey("V"), backend.UserOrdersKey("U")},
			fresh: []snapshot.Key{backend.CurrentDispatchKey(), backend.VehicleKey("V"), backend.UserOrdersKey("U2")},
		},
		{
			name:  "order created",
			n:     Notification{Kind: OrderCreated, UserID: "U"},
			stale: []snapshot.Key{backend.PendingOrdersKey(), backend.UserOrdersKey("U")},
			fresh: []snapshot.Key{backend.DispatchRoutesKey("D"), backend.CurrentDispatchKey()},
		},
		{
			name:  "dispatch completed",
			n:     Notification{Kind: DispatchCompleted, DispatchID: "D"},
			stale: []snapshot.Key{backend.CurrentDispatchKey(), backend.DispatchKey("D")},
			fresh: []snapshot.Key{backend.OrderKey("O1"), backend.DispatchRoutesKey("D")},
		},
		{
			name:  "vehicle updated",
			n:     Notification{Kind: VehicleUpdated, VehicleID: "V"},
			stale: []snapshot.Key{backend.VehicleKey("V"), backend.DriverVehicleKey("drv")},
			fresh: []snapshot.Key{backend.VehicleKey("W"), backend.OrderKey("O1")},
		},
		{
			name:  "route completed without location",
			n:     Notification{Kind: RouteCompleted, RouteID: "R"},
			stale: []snapshot.Key{backend.DispatchRoutesKey("D"), backend.VehicleRoutesKey("V")},
			fresh: []snapshot.Key{backend.OrderKey("O1"), backend.CurrentDispatchKey()},
		},
		{
			name: "unknown kind refreshes everything",
			n:    Notification{Kind: "promo.launched"},
			stale: []snapshot.Key{
				backend.OrderKey("O1"), backend.CurrentDispatchKey(), backend.VehicleKey("V"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			s := snapshot.New(counting(&calls), snapshot.Options{})
			defer s.Close()
			warm(t, s, append(append([]snapshot.Key{}, tt.stale...), tt.fresh...)...)

			r := NewRouter(s, nil, nil)
			r.Handle(context.Background(), tt.n)

			for _, k := range tt.stale {
				assert.True(t, s.Get(k).IsStale, "%s should be stale", k)
			}
			for _, k := range tt.fresh {
				assert.True(t, s.Get(k).Fresh(), "%s should stay fresh", k)
			}
		})
	}
}

func TestHandleRefetchesSubscribedKeysAndToasts(t *testing.T) {
	var calls atomic.Int64
	s := snapshot.New(counting(&calls), snapshot.Options{})
	defer s.Close()

	sub := s.Subscribe(backend.PendingOrdersKey(), nil, snapshot.SubscribeOptions{})
	defer sub.Close()
	require.Eventually(t, func() bool { return sub.Current().Fresh() }, time.Second, time.Millisecond)

	toasts := eventbus.NewTyped[Toast]()
	defer toasts.Close()
	ch := toasts.Subscribe()

	r := NewRouter(s, toasts, nil)
	before := calls.Load()
	r.Handle(context.Background(), Notification{Kind: OrderCreated, Body: "Glass bin at 12 rue Oberkampf"})

	assert.True(t, sub.Current().Fresh())
	assert.Greater(t, calls.Load(), before)

	select {
	case toast := <-ch:
		assert.Equal(t, "New order", toast.Title)
		assert.Equal(t, "Glass bin at 12 rue Oberkampf", toast.Body)
	case <-time.After(time.Second):
		t.Fatal("no toast")
	}
}

func TestHandleRawMalformedRefreshesEverything(t *testing.T) {
	var calls atomic.Int64
	s := snapshot.New(counting(&calls), snapshot.Options{})
	defer s.Close()
	warm(t, s, backend.OrderKey("O1"))

	r := NewRouter(s, nil, nil)
	assert.Error(t, r.HandleRaw(context.Background(), []byte("{not json")))
	assert.True(t, s.Get(backend.OrderKey("O1")).IsStale)

	require.NoError(t, r.HandleRaw(context.Background(), []byte(`{"type":"dispatch.created"}`)))
}

func TestToastFor(t *testing.T) {
	assert.Equal(t, "Route completed", ToastFor(Notification{Kind: RouteCompleted}).Title)
	assert.Equal(t, "Custom", ToastFor(Notification{Kind: RouteCompleted, Title: "Custom"}).Title)
	assert.Equal(t, "Update received", ToastFor(Notification{Kind: "x"}).Title)
}
