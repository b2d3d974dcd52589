package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/strand-protocol/wireprobe/pkg/probe"
)

// Metrics counts probe traffic. Every counter is kept twice: as an OTel
// instrument for export and as an atomic for the local snapshot. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	chunksReceived atomic.Int64
	invocations    atomic.Int64
	failures       atomic.Int64

	bytesSentCtr      metric.Int64Counter
	bytesReceivedCtr  metric.Int64Counter
	chunksReceivedCtr metric.Int64Counter
	outcomesCtr       metric.Int64Counter
}

// NewMetrics registers the wireprobe instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.bytesSentCtr, err = meter.Int64Counter("wireprobe.bytes_sent",
		metric.WithDescription("Payload bytes written by the slow sender"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.bytesReceivedCtr, err = meter.Int64Counter("wireprobe.bytes_received",
		metric.WithDescription("Body or response bytes received"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.chunksReceivedCtr, err = meter.Int64Counter("wireprobe.chunks_received",
		metric.WithDescription("Chunks decoded from chunked responses"),
		metric.WithUnit("{chunk}")); err != nil {
		return nil, err
	}
	if m.outcomesCtr, err = meter.Int64Counter("wireprobe.outcomes",
		metric.WithDescription("Probe invocations by terminal outcome"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) AddBytesSent(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(int64(n))
	m.bytesSentCtr.Add(ctx, int64(n))
}

func (m *Metrics) AddBytesReceived(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(int64(n))
	m.bytesReceivedCtr.Add(ctx, int64(n))
}

// AddChunk records one decoded chunk of the given size.
func (m *Metrics) AddChunk(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.chunksReceived.Add(1)
	m.chunksReceivedCtr.Add(ctx, 1)
	m.AddBytesReceived(ctx, size)
}

// RecordOutcome counts one finished invocation of op.
func (m *Metrics) RecordOutcome(ctx context.Context, op string, o probe.Outcome) {
	if m == nil {
		return
	}
	m.invocations.Add(1)
	if !o.Success() {
		m.failures.Add(1)
	}
	m.outcomesCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", string(o)),
	))
}

// GetMetrics returns a snapshot of the counters.
func (m *Metrics) GetMetrics() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"bytes_sent":      m.bytesSent.Load(),
		"bytes_received":  m.bytesReceived.Load(),
		"chunks_received": m.chunksReceived.Load(),
		"invocations":     m.invocations.Load(),
		"failures":        m.failures.Load(),
	}
}
