package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/snapshot"
)

type recordingReader struct {
	calls []string
}

func (r *recordingReader) hit(name string) { r.calls = append(r.calls, name) }

func (r *recordingReader) CurrentDispatch(context.Context) (*model.Dispatch, error) {
	r.hit("current")
	return nil, nil
}
func (r *recordingReader) Dispatch(_ context.Context, id string) (model.Dispatch, error) {
	r.hit("dispatch:" + id)
	return model.Dispatch{ID: id}, nil
}
func (r *recordingReader) RoutesByDispatch(_ context.Context, id string) ([]model.Route, error) {
	r.hit("routes:" + id)
	return nil, nil
}
func (r *recordingReader) RoutesByVehicle(_ context.Context, id string) ([]model.Route, error) {
	r.hit("vroutes:" + id)
	return nil, nil
}
func (r *recordingReader) Orders(context.Context) ([]model.Order, error) {
	r.hit("orders")
	return nil, nil
}
func (r *recordingReader) OrdersByUser(_ context.Context, id string) ([]model.Order, error) {
	r.hit("user:" + id)
	return nil, nil
}
func (r *recordingReader) PendingOrders(context.Context) ([]model.Order, error) {
	r.hit("pending")
	return nil, nil
}
func (r *recordingReader) InProgressOrders(context.Context) ([]model.Order, error) {
	r.hit("in-progress")
	return nil, nil
}
func (r *recordingReader) Order(_ context.Context, id string) (model.Order, error) {
	r.hit("order:" + id)
	return model.Order{ID: id}, nil
}
func (r *recordingReader) Vehicle(_ context.Context, id string) (model.Vehicle, error) {
	r.hit("vehicle:" + id)
	return model.Vehicle{ID: id}, nil
}
func (r *recordingReader) VehicleByDriver(_ context.Context, id string) (model.Vehicle, error) {
	r.hit("driver:" + id)
	return model.Vehicle{DriverID: id}, nil
}
func (r *recordingReader) Depot(_ context.Context, id string) (model.Depot, error) {
	r.hit("depot:" + id)
	return model.Depot{ID: id}, nil
}

func TestResolverRoutesKeys(t *testing.T) {
	cases := []struct {
		key  snapshot.Key
		want string
	}{
		{CurrentDispatchKey(), "current"},
		{DispatchKey("d1"), "dispatch:d1"},
		{DispatchRoutesKey("d1"), "routes:d1"},
		{VehicleRoutesKey("v1"), "vroutes:v1"},
		{OrdersKey(), "orders"},
		{PendingOrdersKey(), "pending"},
		{InProgressOrdersKey(), "in-progress"},
		{OrderKey("o1"), "order:o1"},
		{UserOrdersKey("u1"), "user:u1"},
		{VehicleKey("v1"), "vehicle:v1"},
		{DriverVehicleKey("dr1"), "driver:dr1"},
		{DepotKey("p1"), "depot:p1"},
	}
	for _, tc := range cases {
		t.Run(tc.key.String(), func(t *testing.T) {
			rr := &recordingReader{}
			f, err := NewResolver(rr).Resolve(tc.key)
			require.NoError(t, err)
			_, err = f(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{tc.want}, rr.calls)
		})
	}
}

func TestResolverUnknownKeys(t *testing.T) {
	res := NewResolver(&recordingReader{})
	for _, k := range []snapshot.Key{
		DispatchesKey(),
		RoutesKey(),
		VehicleRoutesPrefix(),
		snapshot.K("users", "u1"),
		snapshot.K("vehicles", "driver"),
		snapshot.K("trucks", "1"),
		{},
	} {
		_, err := res.Resolve(k)
		assert.ErrorIs(t, err, snapshot.ErrNoResolver, "key %s", k)
	}
}

func TestCheckID(t *testing.T) {
	for _, id := range []string{"", "current", "pending", "in-progress", "vehicle", "driver"} {
		if err := CheckID(id); !errors.Is(err, ErrReservedID) {
			t.Fatalf("CheckID(%q) = %v, want ErrReservedID", id, err)
		}
	}
	for _, id := range []string{"O1", "pending-2", "Pending"} {
		if err := CheckID(id); err != nil {
			t.Fatalf("CheckID(%q) = %v", id, err)
		}
	}
	// The ids rejected above are exactly those that build a list key.
	if !OrderKey("pending").Equal(PendingOrdersKey()) {
		t.Fatal("order key no longer collides with the pending list")
	}
}

func TestKeysNestUnderTheirResource(t *testing.T) {
	assert.True(t, OrderKey("A").HasPrefix(OrdersKey()))
	assert.True(t, PendingOrdersKey().HasPrefix(OrdersKey()))
	assert.False(t, OrderKey("B").HasPrefix(OrderKey("A")))
	assert.True(t, VehicleRoutesKey("v").HasPrefix(VehicleRoutesPrefix()))
	assert.False(t, VehicleRoutesKey("v").HasPrefix(DispatchRoutesKey("d")))
	assert.True(t, CurrentDispatchKey().HasPrefix(DispatchesKey()))
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := OK(model.Order{ID: "o1", Status: model.OrderPending})
	require.NoError(t, err)

	var o model.Order
	require.NoError(t, env.Decode(&o))
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, model.OrderPending, o.Status)
}

func TestEnvelopeAppError(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"code":"99","message":"no pending orders","result":null}`), &env))

	err := env.Decode(&model.Dispatch{})
	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, CodeError, appErr.Code)
	assert.Contains(t, err.Error(), "no pending orders")
}

func TestEnvelopeNullResult(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"code":"00","message":"success","result":null}`), &env))

	var d *model.Dispatch
	require.NoError(t, env.Decode(&d))
	assert.Nil(t, d)
	assert.NoError(t, env.Decode(nil))
}

func TestFailEnvelope(t *testing.T) {
	env := Fail("boom")
	assert.Equal(t, CodeError, env.Code)
	assert.Error(t, env.Decode(nil))
}
