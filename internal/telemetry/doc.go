// Package telemetry exposes OpenTelemetry counters for codec events and sets
// up the meter provider used by the vtrace binary.
package telemetry
