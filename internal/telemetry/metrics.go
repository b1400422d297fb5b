package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter name used for all instruments.
const InstrumentationName = "vtrace"

// Metrics holds the codec counters. A nil *Metrics records nothing.
type Metrics struct {
	prepared     metric.Int64Counter
	unpacked     metric.Int64Counter
	localEvents  metric.Int64Counter
	decodeErrors metric.Int64Counter
	dynamicJoins metric.Int64Counter
	sinkErrors   metric.Int64Counter
}

// NewMetrics creates the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.prepared, "vtrace.messages.prepared", "Messages stamped with the local clock"},
		{&m.unpacked, "vtrace.messages.unpacked", "Messages whose clock was merged"},
		{&m.localEvents, "vtrace.events.local", "Local events logged without a message"},
		{&m.decodeErrors, "vtrace.decode.errors", "Inbound messages rejected as malformed"},
		{&m.dynamicJoins, "vtrace.clock.dynamic_joins", "Process IDs seen for the first time"},
		{&m.sinkErrors, "vtrace.sink.errors", "Log records the sink failed to store"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) add(c metric.Int64Counter, pid string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("process.id", pid))
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) Prepared(pid string) {
	if m != nil {
		m.add(m.prepared, pid)
	}
}

func (m *Metrics) Unpacked(pid string) {
	if m != nil {
		m.add(m.unpacked, pid)
	}
}

func (m *Metrics) LocalEvent(pid string) {
	if m != nil {
		m.add(m.localEvents, pid)
	}
}

func (m *Metrics) DecodeError(pid string) {
	if m != nil {
		m.add(m.decodeErrors, pid)
	}
}

// DynamicJoin counts joined as a newly seen process in pid's clock.
func (m *Metrics) DynamicJoin(pid, joined string) {
	if m != nil {
		m.add(m.dynamicJoins, pid, attribute.String("joined.id", joined))
	}
}

func (m *Metrics) SinkError(pid string) {
	if m != nil {
		m.add(m.sinkErrors, pid)
	}
}
