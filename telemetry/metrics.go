// Package telemetry records operational metrics through the OpenTelemetry
// metric API. All recorders are nil-safe no-ops when metrics are disabled.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for the audit pipeline
type Metrics struct {
	verifications        metric.Int64Counter
	verificationDuration metric.Float64Histogram
}

// NewMetrics creates the pipeline instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/upb/audit-governance")

	verifications, err := meter.Int64Counter(
		"audit_verifications_total",
		metric.WithDescription("Completed integrity verification runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"audit_verification_duration_seconds",
		metric.WithDescription("Integrity verification run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification histogram: %w", err)
	}

	return &Metrics{
		verifications:        verifications,
		verificationDuration: duration,
	}, nil
}

// RecordVerification records one completed verification run.
// No-op on a nil receiver.
func (m *Metrics) RecordVerification(ctx context.Context, tenantID, verifyType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("type", verifyType),
		attribute.String("result", result),
	)
	m.verifications.Add(ctx, 1, attrs)
	m.verificationDuration.Record(ctx, elapsed.Seconds(), attrs)
}
