package service

import (
	"context"

	"exchange-ledger/internal/core/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// transferMetrics are the counters emitted by the transfer engine.
type transferMetrics struct {
	transfers       metric.Int64Counter
	compensations   metric.Int64Counter
	reconciliations metric.Int64Counter
}

func newTransferMetrics(meter metric.Meter) transferMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("exchange-ledger")
	}
	m := transferMetrics{}
	m.transfers = counter(meter, "ledger_transfers_total", "Transfers that reached a terminal state")
	m.compensations = counter(meter, "ledger_compensations_total", "Debits reversed after a failed credit")
	m.reconciliations = counter(meter, "ledger_reconciliation_required_total", "Compensations that could not be applied")
	return m
}

// counter falls back to a noop instrument so a misconfigured provider never
// takes the engine down.
func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter("exchange-ledger").Int64Counter(name)
	}
	return c
}

func (m transferMetrics) recordOutcome(ctx context.Context, rec *domain.TransferRecord) {
	m.transfers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(rec.Status)),
		attribute.String("reason", string(rec.Reason)),
		attribute.String("currency", rec.Currency),
	))
}
