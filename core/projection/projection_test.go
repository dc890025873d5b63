package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/core/model"
)

func idx(i int) *int { return &i }

func order(id string, st model.OrderStatus, index *int) model.Order {
	return model.Order{ID: id, Status: st, Index: index, Latitude: 48.8, Longitude: 2.3}
}

func route(id string, statuses ...model.OrderStatus) model.Route {
	r := model.Route{ID: id, DispatchID: "D", VehicleID: "V" + id, Status: model.RouteInProgress}
	for i, st := range statuses {
		r.Orders = append(r.Orders, order(id+"-"+string(rune('a'+i)), st, idx(i)))
	}
	return r
}

func TestRouteProgress(t *testing.T) {
	tests := []struct {
		name  string
		route model.Route
		want  float64
	}{
		{"empty route", route("R"), 0},
		{"nothing done", route("R", model.OrderInProgress, model.OrderInProgress), 0},
		{"half", route("R", model.OrderCompleted, model.OrderInProgress), 0.5},
		{"three quarters", route("R", model.OrderCompleted, model.OrderCompleted, model.OrderCompleted, model.OrderInProgress), 0.75},
		{"all", route("R", model.OrderCompleted), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RouteProgress(tt.route)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestCanCompleteRoute(t *testing.T) {
	assert.False(t, CanCompleteRoute(route("R")))
	assert.False(t, CanCompleteRoute(route("R", model.OrderCompleted, model.OrderInProgress)))
	assert.True(t, CanCompleteRoute(route("R", model.OrderCompleted, model.OrderCompleted)))
}

func TestCanCompleteDispatchRejectsUnfinishedRoute(t *testing.T) {
	r1 := route("R1", model.OrderCompleted, model.OrderCompleted, model.OrderCompleted)
	r1.Status = model.RouteCompleted
	r2 := route("R2", model.OrderCompleted, model.OrderInProgress)

	assert.False(t, CanCompleteDispatch([]model.Route{r1, r2}))
	r2.Status = model.RouteCompleted
	assert.True(t, CanCompleteDispatch([]model.Route{r1, r2}))
	assert.True(t, CanCompleteDispatch(nil))
}

func TestDispatchProgress(t *testing.T) {
	r1 := route("R1", model.OrderCompleted, model.OrderCompleted, model.OrderCompleted)
	r2 := route("R2", model.OrderCompleted, model.OrderInProgress)
	assert.Equal(t, 0.8, DispatchProgress([]model.Route{r1, r2}))
	assert.Equal(t, 0.0, DispatchProgress(nil))
}

func TestRemainingPathSkipsCompletedAndSortsNullIndexLast(t *testing.T) {
	r := model.Route{Orders: []model.Order{
		order("x", model.OrderInProgress, nil),
		order("c", model.OrderInProgress, idx(2)),
		order("a", model.OrderCompleted, idx(0)),
		order("b", model.OrderInProgress, idx(1)),
		order("w", model.OrderInProgress, nil),
	}}
	depot := model.Position{Latitude: 48.9, Longitude: 2.4}

	p := RemainingPath(r, &depot)
	var ids []string
	for _, o := range p.Stops {
		assert.NotEqual(t, model.OrderCompleted, o.Status)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"b", "c", "w", "x"}, ids)
	require.NotNil(t, p.End)
	assert.Equal(t, depot, *p.End)

	pts := p.Points()
	require.Len(t, pts, 5)
	assert.Equal(t, depot, pts[4])

	assert.Equal(t, "a", r.Orders[2].ID, "input must not be reordered")
	assert.Nil(t, RemainingPath(r, nil).End)
}

func TestEffectivePosition(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	v := model.Vehicle{ID: "V", CurrentLatitude: 1, CurrentLongitude: 2}
	s := model.TelemetrySample{VehicleID: "V", Latitude: 10, Longitude: 20, Seq: 2, ReceivedAt: now.Add(-30 * time.Second)}

	pos, src := EffectivePosition(v, nil, Freshness{})
	assert.Equal(t, model.Position{Latitude: 1, Longitude: 2}, pos)
	assert.Equal(t, FromSnapshot, src)

	pos, src = EffectivePosition(v, &s, Freshness{})
	assert.Equal(t, model.Position{Latitude: 10, Longitude: 20}, pos)
	assert.Equal(t, FromTelemetry, src)

	clock := func() time.Time { return now }
	_, src = EffectivePosition(v, &s, Freshness{MaxAge: time.Minute, Now: clock})
	assert.Equal(t, FromTelemetry, src)
	_, src = EffectivePosition(v, &s, Freshness{MaxAge: 10 * time.Second, Now: clock})
	assert.Equal(t, FromSnapshot, src)

	other := s
	other.VehicleID = "W"
	_, src = EffectivePosition(v, &other, Freshness{})
	assert.Equal(t, FromSnapshot, src)
}

func TestDistance(t *testing.T) {
	paris := model.Position{Latitude: 48.8566, Longitude: 2.3522}
	lyon := model.Position{Latitude: 45.7640, Longitude: 4.8357}
	assert.InDelta(t, 392, Distance(paris, lyon), 2)
	assert.Zero(t, Distance(paris, paris))

	p := Path{End: &lyon}
	assert.InDelta(t, Distance(paris, lyon), RemainingDistance(paris, p), 1e-9)
	assert.Zero(t, RemainingDistance(paris, Path{}))
}
