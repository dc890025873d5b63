package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dispatchsync/core/metrics"
	"github.com/kilianp07/dispatchsync/infra/logger"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Timeout bounds each write and the startup health check. Defaults to 5s.
	Timeout time.Duration `json:"timeout"`
}

func (c InfluxConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

// InfluxSink writes vehicle positions and mutation events to InfluxDB using
// the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	timeout  time.Duration
	log      logger.Logger
}

var _ coremetrics.TelemetryRecorder = (*InfluxSink)(nil)

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: cfg.timeout()}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout:  cfg.timeout(),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordMutation writes a mutation_event point.
func (s *InfluxSink) RecordMutation(ev coremetrics.MutationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	p := write.NewPointWithMeasurement("mutation_event").
		AddTag("operation", ev.Operation).
		AddTag("outcome", string(ev.Outcome)).
		AddTag("component", "mutation_coordinator").
		AddField("target_id", ev.TargetID).
		AddField("request_id", ev.RequestID).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		AddField("invalidated", ev.Invalidated).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTelemetry writes applied samples as vehicle_position points.
// Discarded samples are not positions the map ever showed and are skipped.
func (s *InfluxSink) RecordTelemetry(ev coremetrics.TelemetryEvent) error {
	if ev.Discarded {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_position").
		AddTag("vehicle_id", ev.VehicleID).
		AddField("latitude", ev.Latitude).
		AddField("longitude", ev.Longitude).
		AddField("load", round3(ev.Load)).
		AddField("seq", strconv.FormatUint(ev.Seq, 10)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
