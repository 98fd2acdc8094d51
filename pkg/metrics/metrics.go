// Package metrics holds the OpenTelemetry instruments recorded by the voice
// assistant. Build one with [New] from any [metric.MeterProvider]; tests use
// an sdk ManualReader, the binary a Prometheus exporter.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/hhconstruction/hh-assistant"

// Metrics groups every instrument. The OTel types synchronise internally.
type Metrics struct {
	// SessionsStarted counts Start attempts by outcome
	// (attribute "outcome": ok, config_error, permission_error, connection_error).
	SessionsStarted metric.Int64Counter

	// ActiveSessions is 1 while a session is connecting or active.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration is the time from Start to an open remote session.
	ConnectDuration metric.Float64Histogram

	FramesSent      metric.Int64Counter
	ChunksScheduled metric.Int64Counter
	DecodeErrors    metric.Int64Counter
	Interruptions   metric.Int64Counter

	// ToolCalls counts tool invocations (attributes "tool", "handled").
	ToolCalls metric.Int64Counter

	// Bookings counts submitted booking requests (attribute "status").
	Bookings metric.Int64Counter
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// New creates all instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("hh.sessions.started",
		metric.WithDescription("Voice session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("hh.sessions.active",
		metric.WithDescription("Voice sessions currently connecting or active."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("hh.session.connect.duration",
		metric.WithDescription("Latency from start to an open remote session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("hh.audio.frames_sent",
		metric.WithDescription("Microphone frames sent to the speech service."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("hh.audio.chunks_scheduled",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("hh.audio.decode_errors",
		metric.WithDescription("Inbound audio chunks dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("hh.playback.interruptions",
		metric.WithDescription("Barge-in interruptions received."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("hh.tool.calls",
		metric.WithDescription("Tool invocations by tool name."),
	); err != nil {
		return nil, err
	}
	if met.Bookings, err = m.Int64Counter("hh.bookings",
		metric.WithDescription("Booking submissions by status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns instruments built on the global meter provider, falling
// back to a no-op provider if that fails.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := New(otel.GetMeterProvider())
		if err != nil {
			m, _ = New(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordSessionStart counts one start attempt.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, handled bool) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("handled", handled),
	))
}

// RecordBooking counts one booking submission.
func (m *Metrics) RecordBooking(ctx context.Context, status string) {
	m.Bookings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
