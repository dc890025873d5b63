package metrics

import (
	"errors"
	"fmt"
	"io"

	"github.com/kilianp07/dispatchsync/core/factory"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a sink factory under name. Adapters call it from
// init.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinkRegistry.Names() }

// NewMetricsSinks builds one sink per configuration entry. When an entry
// fails, the sinks already built are closed and the error names the entry.
func NewMetricsSinks(cfgs []factory.ModuleConfig) ([]MetricsSink, error) {
	sinks := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err), closeSinks(sinks))
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// NewMetricsSink builds the configured sinks as a single MetricsSink: NopSink
// when none is configured, the sink itself for one entry, a MultiSink
// otherwise.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	sinks, err := NewMetricsSinks(cfgs)
	if err != nil {
		return nil, err
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

func closeSinks(sinks []MetricsSink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
