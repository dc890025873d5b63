package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordMutation forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordMutation(ev MutationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordMutation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordCacheEvent forwards to sinks implementing CacheRecorder.
func (m *MultiSink) RecordCacheEvent(ev CacheEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CacheRecorder); ok {
			if err := rec.RecordCacheEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTelemetry forwards to sinks implementing TelemetryRecorder.
func (m *MultiSink) RecordTelemetry(ev TelemetryEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TelemetryRecorder); ok {
			if err := rec.RecordTelemetry(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordOpenFeeds forwards to sinks implementing FeedRecorder.
func (m *MultiSink) RecordOpenFeeds(n int) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FeedRecorder); ok {
			if err := rec.RecordOpenFeeds(n); err != nil {
				return err
			}
		}
	}
	return nil
}
