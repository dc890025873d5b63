package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
)

func seeded(t *testing.T) *Backend {
	t.Helper()
	b := New()
	n := 0
	b.NewID = func() string { n++; return fmt.Sprintf("id%d", n) }
	b.Now = func() time.Time { return time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC) }
	b.AddDepot(model.Depot{ID: "P", Latitude: 48.85, Longitude: 2.35})
	b.AddVehicle(model.Vehicle{ID: "V1", DriverID: "drv1", DepotID: "P", Capacity: 100})
	b.AddVehicle(model.Vehicle{ID: "V2", DriverID: "drv2", DepotID: "P", Capacity: 100})
	for i, w := range []float64{40, 30, 20, 10} {
		b.AddOrder(model.Order{
			ID: fmt.Sprintf("O%d", i+1), UserID: "U", Status: model.OrderPending,
			Latitude: 48.85 + float64(i)*0.01, Longitude: 2.35, Weight: w,
		})
	}
	return b
}

func TestCreateDispatchAssignsPendingOrders(t *testing.T) {
	ctx := context.Background()
	b := seeded(t)

	d, err := b.CreateDispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchInProgress, d.Status)

	cur, err := b.CurrentDispatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, d.ID, cur.ID)

	routes, err := b.RoutesByDispatch(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	total := 0
	for _, r := range routes {
		total += len(r.Orders)
		load := 0.0
		for i, o := range r.Orders {
			assert.Equal(t, model.OrderInProgress, o.Status)
			require.NotNil(t, o.Index)
			assert.Equal(t, i, *o.Index)
			assert.Equal(t, r.ID, *o.RouteID)
			load += o.Weight
		}
		assert.LessOrEqual(t, load, 100.0)
		assert.Greater(t, r.Distance, 0.0)
		assert.Len(t, r.Coordinates, len(r.Orders))
	}
	assert.Equal(t, 4, total)

	pending, err := b.PendingOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = b.CreateDispatch(ctx)
	var appErr *backend.AppError
	assert.True(t, errors.As(err, &appErr))
}

func TestCreateDispatchWithoutPendingOrders(t *testing.T) {
	b := New()
	b.AddVehicle(model.Vehicle{ID: "V1"})
	_, err := b.CreateDispatch(context.Background())
	assert.ErrorContains(t, err, "no pending orders")
}

func TestCompletionIsEnforced(t *testing.T) {
	ctx := context.Background()
	b := seeded(t)
	d, err := b.CreateDispatch(ctx)
	require.NoError(t, err)
	routes, err := b.RoutesByDispatch(ctx, d.ID)
	require.NoError(t, err)

	assert.Error(t, b.MarkDispatchDone(ctx, d.ID))
	assert.Error(t, b.MarkRouteDone(ctx, routes[0].ID))

	for _, r := range routes {
		for _, o := range r.Orders {
			require.NoError(t, b.MarkOrderDone(ctx, o.ID))
		}
		require.NoError(t, b.MarkRouteDone(ctx, r.ID))
	}
	require.NoError(t, b.MarkOrderDone(ctx, routes[0].Orders[0].ID), "duplicate completion is tolerated")
	require.NoError(t, b.MarkDispatchDone(ctx, d.ID))

	got, err := b.Dispatch(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	cur, err := b.CurrentDispatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRerouteOnlyPlansPendingOrders(t *testing.T) {
	ctx := context.Background()
	b := seeded(t)
	d, err := b.CreateDispatch(ctx)
	require.NoError(t, err)
	before, _ := b.RoutesByDispatch(ctx, d.ID)

	o, err := b.CreateOrder(ctx, backend.OrderInput{UserID: "U2", Latitude: 48.9, Longitude: 2.3, Weight: 5})
	require.NoError(t, err)

	_, err = b.RerouteDispatch(ctx, d.ID)
	require.NoError(t, err)
	after, _ := b.RoutesByDispatch(ctx, d.ID)
	assert.Len(t, after, len(before)+1)

	got, _ := b.Order(ctx, o.ID)
	assert.Equal(t, model.OrderInProgress, got.Status)
	for _, r := range before {
		for _, a := range after {
			if a.ID == r.ID {
				assert.Equal(t, r.Orders, a.Orders)
			}
		}
	}
}

func TestOrderEditing(t *testing.T) {
	ctx := context.Background()
	b := seeded(t)

	img := &backend.Attachment{Filename: "bin.jpg", Data: strings.NewReader("jpeg")}
	o, err := b.CreateOrder(ctx, backend.OrderInput{UserID: "U9", Latitude: 1, Longitude: 2, Weight: 3, Category: "glass", Image: img})
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Contains(t, o.ImageURL, "bin.jpg")

	o, err = b.UpdateOrder(ctx, o.ID, backend.OrderInput{UserID: "U9", Latitude: 1, Longitude: 2, Weight: 7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, o.Weight)

	mine, err := b.OrdersByUser(ctx, "U9")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = b.UpdateOrder(ctx, "missing", backend.OrderInput{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestLookupsAndFailures(t *testing.T) {
	ctx := context.Background()
	b := seeded(t)

	v, err := b.VehicleByDriver(ctx, "drv2")
	require.NoError(t, err)
	assert.Equal(t, "V2", v.ID)
	_, err = b.Vehicle(ctx, "nope")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, err = b.Depot(ctx, "P")
	assert.NoError(t, err)

	b.FailNext(errors.New("gateway timeout"))
	assert.ErrorContains(t, b.MarkOrderDone(ctx, "O1"), "gateway timeout")
	assert.Equal(t, 1, b.Writes())
	assert.Greater(t, b.Reads(), 0)
}

func TestPlanRespectsCapacity(t *testing.T) {
	vehicles := []model.Vehicle{{ID: "A", Capacity: 10}, {ID: "B", Capacity: 10}}
	orders := []model.Order{{ID: "1", Weight: 8}, {ID: "2", Weight: 8}, {ID: "3", Weight: 8}}
	plans := plan(orders, vehicles, nil)
	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.Len(t, p.orders, 1)
	}
}

func TestFeedDeliversAndDrops(t *testing.T) {
	ctx := context.Background()
	f := NewFeed()

	var mu sync.Mutex
	var got []model.TelemetrySample
	conn, err := f.Open(ctx, "V", func(s model.TelemetrySample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Connections("V"))

	require.NoError(t, f.Publish(ctx, model.TelemetrySample{VehicleID: "V", Latitude: 10, Longitude: 20, Seq: 3}))
	require.NoError(t, f.Publish(ctx, model.TelemetrySample{VehicleID: "W", Latitude: 1, Longitude: 1}))
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, "V", got[0].VehicleID)
	mu.Unlock()

	f.Drop("V")
	select {
	case <-conn.Lost():
	default:
		t.Fatal("connection not marked lost")
	}
	assert.Equal(t, 0, f.Connections("V"))
	assert.NoError(t, conn.Close())
}
