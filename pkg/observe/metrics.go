// Package observe wires OpenTelemetry metrics and spans for the synthesis,
// scoring and HTTP paths.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "slowburn"

// Metrics holds the instruments used across the app.
type Metrics struct {
	// TTSDuration is provider synthesis latency, by provider and status.
	TTSDuration metric.Float64Histogram
	// ScoringDuration is pronunciation analysis latency, by status.
	ScoringDuration metric.Float64Histogram
	// HTTPRequestDuration is API latency, by method and route.
	HTTPRequestDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter
	// CacheLookups counts audio cache lookups by result (memory, disk, miss).
	CacheLookups metric.Int64Counter
	// PracticeAttempts counts analyzed attempts by section and whether the
	// result was a placeholder.
	PracticeAttempts metric.Int64Counter
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TTSDuration, err = m.Float64Histogram("slowburn.tts.duration",
		metric.WithDescription("Latency of one speech provider call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoringDuration, err = m.Float64Histogram("slowburn.scoring.duration",
		metric.WithDescription("Latency of pronunciation analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("slowburn.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("slowburn.provider.requests",
		metric.WithDescription("Provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("slowburn.cache.lookups",
		metric.WithDescription("Audio cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.PracticeAttempts, err = m.Int64Counter("slowburn.practice.attempts",
		metric.WithDescription("Analyzed pronunciation attempts."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics bound to the global meter provider. It is
// created on first use, so InitProvider must run before it when exporting.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderCall records one provider call's latency and outcome.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	if kind == "tts" {
		m.TTSDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordCacheLookup counts one audio cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordAttempt records one analyzed pronunciation attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, section string, placeholder bool, elapsed time.Duration) {
	status := "ok"
	if placeholder {
		status = "placeholder"
	}
	attrs := metric.WithAttributes(
		attribute.String("section", section),
		attribute.String("status", status),
	)
	m.PracticeAttempts.Add(ctx, 1, attrs)
	m.ScoringDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
