// Package telemetry fans live vehicle samples out to any number of viewers.
//
// A Channel keeps at most one push connection per vehicle, shared by every
// Handle subscribed to that vehicle and closed when the last one leaves.
// Samples carry a sequence number; a sample that is not newer than the one
// already displayed is dropped so positions never move backwards. Delivery
// is at-most-last-value: a slow viewer skips samples but always ends up with
// the latest one.
//
// Publisher is the write side: a cancellable periodic task that pushes the
// local vehicle's own position.
package telemetry
