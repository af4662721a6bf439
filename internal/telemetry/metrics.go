package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/torosent/fgaclient"

const (
	MetricRequestDuration    = "fga-client.request.duration"
	MetricCredentialsRequest = "fga-client.credentials.request"
)

// Meters records request durations and credential exchanges.
type Meters struct {
	requestDuration metric.Float64Histogram
	credentials     metric.Int64Counter
}

// NewMeters creates the instruments on provider, or on the global provider
// when provider is nil.
func NewMeters(provider metric.MeterProvider) (*Meters, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("Total request time for requests to the authorization service"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	creds, err := meter.Int64Counter(MetricCredentialsRequest,
		metric.WithDescription("Number of token requests made to the token endpoint"),
	)
	if err != nil {
		return nil, err
	}
	return &Meters{requestDuration: duration, credentials: creds}, nil
}

// NoopMeters returns meters that record nothing.
func NoopMeters() *Meters {
	m, _ := NewMeters(noop.NewMeterProvider())
	return m
}

// RecordRequest records the duration of one request.
func (m *Meters) RecordRequest(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

// RecordCredentialsRequest counts one token endpoint exchange.
func (m *Meters) RecordCredentialsRequest(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.credentials.Add(ctx, 1, metric.WithAttributes(attrs...))
}
