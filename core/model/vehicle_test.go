package model

import "testing"

func ptr[T any](v T) *T { return &v }

func TestPositionValidate(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		ok   bool
	}{
		{"paris", Position{Latitude: 48.85, Longitude: 2.35}, true},
		{"latitude out of range", Position{Latitude: 91}, false},
		{"longitude out of range", Position{Longitude: -181}, false},
	}
	for _, tt := range tests {
		err := tt.pos.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestRouteCompletedOrders(t *testing.T) {
	r := Route{Orders: []Order{
		{ID: "a", Status: OrderCompleted},
		{ID: "b", Status: OrderInProgress},
		{ID: "c", Status: OrderCompleted},
	}}
	if got := r.CompletedOrders(); got != 2 {
		t.Fatalf("completed = %d, want 2", got)
	}
	o, ok := r.Order("b")
	if !ok || o.Status != OrderInProgress {
		t.Fatalf("order b = %+v, %v", o, ok)
	}
	if _, ok := r.Order("z"); ok {
		t.Fatal("unexpected order z")
	}
}

func TestOrderAssigned(t *testing.T) {
	if (Order{}).Assigned() {
		t.Fatal("order without route is assigned")
	}
	if (Order{RouteID: ptr("")}).Assigned() {
		t.Fatal("order with empty route id is assigned")
	}
	if !(Order{RouteID: ptr("r1")}).Assigned() {
		t.Fatal("order on r1 is not assigned")
	}
	if !(Order{Status: OrderCancelled}).Terminal() {
		t.Fatal("cancelled order is not terminal")
	}
	if (Order{Status: OrderPending}).Terminal() {
		t.Fatal("pending order is terminal")
	}
}

func TestSampleNewerThan(t *testing.T) {
	a := TelemetrySample{Seq: 2}
	b := TelemetrySample{Seq: 1}
	if !a.NewerThan(b) || b.NewerThan(a) || a.NewerThan(a) {
		t.Fatal("samples must order by sequence")
	}
}
