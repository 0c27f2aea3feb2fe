// Package telemetry holds the OpenTelemetry metric instruments for the
// broker-auth service. Exporter wiring lives with the deployment; the global
// meter provider is used so a configured SDK picks these up.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "trademaster.broker-auth"

// Metrics bundles the service's counters. A nil *Metrics is a valid no-op
// receiver so callers never need nil checks at call sites.
type Metrics struct {
	authAttempts    metric.Int64Counter
	breakerOpens    metric.Int64Counter
	riskBlocks      metric.Int64Counter
	sessionsCreated metric.Int64Counter
	sessionsSwept   metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	authAttempts, err := meter.Int64Counter("broker_auth_attempts_total",
		metric.WithDescription("Broker authentication attempts by broker and outcome"))
	if err != nil {
		return nil, err
	}
	breakerOpens, err := meter.Int64Counter("broker_circuit_opens_total",
		metric.WithDescription("Circuit breaker open transitions by broker"))
	if err != nil {
		return nil, err
	}
	riskBlocks, err := meter.Int64Counter("risk_blocks_total",
		metric.WithDescription("Requests denied by the risk stage"))
	if err != nil {
		return nil, err
	}
	sessionsCreated, err := meter.Int64Counter("sessions_created_total",
		metric.WithDescription("Sessions created by broker"))
	if err != nil {
		return nil, err
	}
	sessionsSwept, err := meter.Int64Counter("sessions_swept_total",
		metric.WithDescription("Sessions flipped to EXPIRED by the sweeper"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		authAttempts:    authAttempts,
		breakerOpens:    breakerOpens,
		riskBlocks:      riskBlocks,
		sessionsCreated: sessionsCreated,
		sessionsSwept:   sessionsSwept,
	}, nil
}

// RecordAuthAttempt counts one authentication attempt.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, broker, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("broker", broker),
		attribute.String("outcome", outcome),
	))
}

// RecordBreakerOpen counts one circuit-open transition.
func (m *Metrics) RecordBreakerOpen(ctx context.Context, broker string) {
	if m == nil {
		return
	}
	m.breakerOpens.Add(ctx, 1, metric.WithAttributes(attribute.String("broker", broker)))
}

// RecordRiskBlock counts one high-risk denial.
func (m *Metrics) RecordRiskBlock(ctx context.Context) {
	if m == nil {
		return
	}
	m.riskBlocks.Add(ctx, 1)
}

// RecordSessionCreated counts one created session.
func (m *Metrics) RecordSessionCreated(ctx context.Context, broker string) {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("broker", broker)))
}

// RecordSessionsSwept counts sessions expired by the sweeper.
func (m *Metrics) RecordSessionsSwept(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.sessionsSwept.Add(ctx, n)
}
