package metrics

import "time"

// MutationOutcome classifies the result of a mutation attempt.
type MutationOutcome string

const (
	OutcomeOK       MutationOutcome = "ok"
	OutcomeRejected MutationOutcome = "rejected"
	OutcomeFailed   MutationOutcome = "failed"
	OutcomeBusy     MutationOutcome = "busy"
)

// MutationEvent describes one Mutation Coordinator invocation.
type MutationEvent struct {
	RequestID   string
	Operation   string
	TargetID    string
	Outcome     MutationOutcome
	Latency     time.Duration
	Invalidated int
	Time        time.Time
}

// MetricsSink records mutation outcomes.
type MetricsSink interface {
	RecordMutation(ev MutationEvent) error
}

// CacheEventKind enumerates snapshot store events.
type CacheEventKind string

const (
	CacheHit        CacheEventKind = "hit"
	CacheMiss       CacheEventKind = "miss"
	CacheFetch      CacheEventKind = "fetch"
	CacheError      CacheEventKind = "error"
	CacheInvalidate CacheEventKind = "invalidate"
)

// CacheEvent is emitted by the snapshot store. Resource is the first key
// segment so label cardinality stays bounded.
type CacheEvent struct {
	Resource string
	Kind     CacheEventKind
	Duration time.Duration
	Count    int
	Time     time.Time
}

// CacheRecorder records snapshot store events.
type CacheRecorder interface {
	RecordCacheEvent(ev CacheEvent) error
}

// TelemetryEvent describes one telemetry sample handled by the channel.
type TelemetryEvent struct {
	VehicleID string
	Latitude  float64
	Longitude float64
	Load      float64
	Seq       uint64
	Discarded bool
	Time      time.Time
}

// TelemetryRecorder records telemetry samples.
type TelemetryRecorder interface {
	RecordTelemetry(ev TelemetryEvent) error
}

// FeedRecorder records the number of open per-vehicle feeds.
type FeedRecorder interface {
	RecordOpenFeeds(n int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordMutation(MutationEvent) error   { return nil }
func (NopSink) RecordCacheEvent(CacheEvent) error    { return nil }
func (NopSink) RecordTelemetry(TelemetryEvent) error { return nil }
func (NopSink) RecordOpenFeeds(int) error            { return nil }
