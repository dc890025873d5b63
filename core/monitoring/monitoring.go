// Package monitoring reports unexpected failures to an error tracker.
package monitoring

import "time"

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

// NopMonitor discards everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

// OrNop returns m, or a NopMonitor when m is nil.
func OrNop(m Monitor) Monitor {
	if m == nil {
		return NopMonitor{}
	}
	return m
}

var current Monitor = NopMonitor{}

// Init sets the process wide monitor used by Recover and Flush.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// Current returns the process wide monitor.
func Current() Monitor { return current }

// Recover reports a panic and re-raises it. It must be deferred directly:
//
//	defer monitoring.Recover()
func Recover() {
	if r := recover(); r != nil {
		current.CapturePanic(r)
		current.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) { current.Flush(d) }
