package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dispatchsync/core/metrics"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInfluxSink_RecordMutation(t *testing.T) {
	var rec bodyRecorder
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	now := time.Now()

	err := sink.RecordMutation(coremetrics.MutationEvent{
		RequestID: "req1", Operation: "markOrderDone", TargetID: "O1",
		Outcome: coremetrics.OutcomeOK, Latency: 42 * time.Millisecond, Invalidated: 3, Time: now,
	})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("mutation_event").
		AddTag("operation", "markOrderDone").
		AddTag("outcome", "ok").
		AddTag("component", "mutation_coordinator").
		AddField("target_id", "O1").
		AddField("request_id", "req1").
		AddField("latency_ms", 42.0).
		AddField("invalidated", 3).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if len(rec.bodies) != 1 || rec.bodies[0] != expected {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_RecordTelemetry(t *testing.T) {
	var rec bodyRecorder
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	now := time.Now()

	if err := sink.RecordTelemetry(coremetrics.TelemetryEvent{VehicleID: "V1", Latitude: 48.85, Longitude: 2.35, Load: 12.3456, Seq: 9, Time: now}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := sink.RecordTelemetry(coremetrics.TelemetryEvent{VehicleID: "V1", Seq: 8, Discarded: true, Time: now}); err != nil {
		t.Fatalf("record discarded: %v", err)
	}
	p := write.NewPointWithMeasurement("vehicle_position").
		AddTag("vehicle_id", "V1").
		AddField("latitude", 48.85).
		AddField("longitude", 2.35).
		AddField("load", 12.346).
		AddField("seq", "9").
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if len(rec.bodies) != 1 || rec.bodies[0] != expected {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
