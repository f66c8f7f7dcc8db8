package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pane-conductor"

// Metrics holds the conductor's counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	TerminalsCreated metric.Int64Counter
	TerminalsDeleted metric.Int64Counter

	InboxSubmitted  metric.Int64Counter
	InboxDelivered  metric.Int64Counter
	InboxClaimRaces metric.Int64Counter

	// Classifications is partitioned by provider and status.
	Classifications metric.Int64Counter
	// Handoffs is partitioned by outcome (completed, ready_timeout, ...).
	Handoffs metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.TerminalsCreated, err = meter.Int64Counter("terminals.created",
		metric.WithDescription("Terminals created, by provider")); err != nil {
		return nil, err
	}
	if m.TerminalsDeleted, err = meter.Int64Counter("terminals.deleted",
		metric.WithDescription("Terminal records removed")); err != nil {
		return nil, err
	}
	if m.InboxSubmitted, err = meter.Int64Counter("inbox.submitted",
		metric.WithDescription("Inbox messages queued")); err != nil {
		return nil, err
	}
	if m.InboxDelivered, err = meter.Int64Counter("inbox.delivered",
		metric.WithDescription("Inbox messages typed into their receiver")); err != nil {
		return nil, err
	}
	if m.InboxClaimRaces, err = meter.Int64Counter("inbox.claim_races",
		metric.WithDescription("Deliveries skipped because another deliverer claimed the message first")); err != nil {
		return nil, err
	}
	if m.Classifications, err = meter.Int64Counter("status.classifications",
		metric.WithDescription("Terminal status classifications, by provider and status")); err != nil {
		return nil, err
	}
	if m.Handoffs, err = meter.Int64Counter("handoffs",
		metric.WithDescription("Handoff workflows, by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTerminalCreated counts a created terminal.
func (m *Metrics) RecordTerminalCreated(ctx context.Context, provider string, asPane bool) {
	if m == nil {
		return
	}
	m.TerminalsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("pane", asPane),
	))
}

// RecordTerminalDeleted counts a removed terminal record.
func (m *Metrics) RecordTerminalDeleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TerminalsDeleted.Add(ctx, 1)
}

// RecordInboxSubmitted counts a queued message.
func (m *Metrics) RecordInboxSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.InboxSubmitted.Add(ctx, 1)
}

// RecordInboxDelivered counts a delivered message.
func (m *Metrics) RecordInboxDelivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.InboxDelivered.Add(ctx, 1)
}

// RecordClaimRace counts a lost delivery claim.
func (m *Metrics) RecordClaimRace(ctx context.Context) {
	if m == nil {
		return
	}
	m.InboxClaimRaces.Add(ctx, 1)
}

// RecordClassification counts a status classification.
func (m *Metrics) RecordClassification(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.Classifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordHandoff counts a finished handoff.
func (m *Metrics) RecordHandoff(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Handoffs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
