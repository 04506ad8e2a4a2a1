package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civreg/internal/platform/metrics"
	"civreg/pkg/platform/sentinel"
)

const tracerName = "civreg/internal/gateway"

// Instrumented decorates a Gateway with a per-call deadline, a trace span and
// metrics. Subscriptions get a span for setup only; their lifetime is not bounded
// by the timeout.
type Instrumented struct {
	next    Gateway
	timeout time.Duration
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Instrument wraps next. A zero timeout disables the deadline.
func Instrument(next Gateway, timeout time.Duration, m *metrics.Metrics) *Instrumented {
	return &Instrumented{
		next:    next,
		timeout: timeout,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

func (g *Instrumented) start(ctx context.Context, op string, table Table) (context.Context, context.CancelFunc, trace.Span) {
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("db.table", string(table)),
		attribute.String("db.operation", op),
	))
	if g.timeout <= 0 {
		return ctx, func() {}, span
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return ctx, cancel, span
}

func (g *Instrumented) finish(ctx context.Context, span trace.Span, op string, table Table, start time.Time, err error) error {
	defer span.End()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, sentinel.ErrUnavailable) {
		err = fmt.Errorf("%s %s timed out: %w: %w", op, table, sentinel.ErrUnavailable, err)
	}
	g.metrics.ObserveGateway(op, string(table), start, err)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Instrumented) Select(ctx context.Context, table Table, q Query) ([]Row, error) {
	start := time.Now()
	ctx, cancel, span := g.start(ctx, "select", table)
	defer cancel()
	rows, err := g.next.Select(ctx, table, q)
	span.SetAttributes(attribute.Int("db.rows", len(rows)))
	return rows, g.finish(ctx, span, "select", table, start, err)
}

func (g *Instrumented) SelectOne(ctx context.Context, table Table, q Query) (Row, error) {
	start := time.Now()
	ctx, cancel, span := g.start(ctx, "select_one", table)
	defer cancel()
	row, err := g.next.SelectOne(ctx, table, q)
	return row, g.finish(ctx, span, "select_one", table, start, err)
}

func (g *Instrumented) Insert(ctx context.Context, table Table, row Row) (Row, error) {
	start := time.Now()
	ctx, cancel, span := g.start(ctx, "insert", table)
	defer cancel()
	out, err := g.next.Insert(ctx, table, row)
	return out, g.finish(ctx, span, "insert", table, start, err)
}

func (g *Instrumented) Update(ctx context.Context, table Table, match []Filter, patch Row) (Row, error) {
	start := time.Now()
	ctx, cancel, span := g.start(ctx, "update", table)
	defer cancel()
	out, err := g.next.Update(ctx, table, match, patch)
	return out, g.finish(ctx, span, "update", table, start, err)
}

func (g *Instrumented) Delete(ctx context.Context, table Table, match []Filter) error {
	start := time.Now()
	ctx, cancel, span := g.start(ctx, "delete", table)
	defer cancel()
	err := g.next.Delete(ctx, table, match)
	return g.finish(ctx, span, "delete", table, start, err)
}

func (g *Instrumented) Subscribe(ctx context.Context, table Table, match []Filter) (Subscription, error) {
	start := time.Now()
	_, span := g.tracer.Start(ctx, "gateway.subscribe", trace.WithAttributes(
		attribute.String("db.table", string(table)),
	))
	sub, err := g.next.Subscribe(ctx, table, match)
	return sub, g.finish(ctx, span, "subscribe", table, start, err)
}
