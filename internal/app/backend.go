package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/koebridge/koebridge/internal/carrier"
	"github.com/koebridge/koebridge/internal/observe"
	"github.com/koebridge/koebridge/internal/tools"
	"github.com/koebridge/koebridge/pkg/orderapi"
)

// ErrNoBackend is returned for order mutations when no commerce backend is
// configured.
var ErrNoBackend = errors.New("app: order backend not configured")

// OrderBackend is the commerce surface the service needs: caller
// identification for the webhook plus the order operations the tools call.
// *orderapi.Client implements it.
type OrderBackend interface {
	carrier.Identifier
	tools.OrderService
}

// ── No-op backend ──────────────────────────────────────────────────────────────

// noopBackend stands in when no backend credentials are configured. Every
// caller is unknown and every lookup comes back empty, so the assistant
// still converses but cannot quote order data.
type noopBackend struct{}

var _ OrderBackend = noopBackend{}

func (noopBackend) SearchByPhone(context.Context, string) orderapi.IdentificationContext {
	return orderapi.UnknownContext(false)
}

func (noopBackend) SearchOrders(context.Context, orderapi.SearchQuery) ([]orderapi.Order, error) {
	return nil, nil
}

func (noopBackend) GetOrder(context.Context, string) (*orderapi.Order, error) {
	return nil, nil
}

func (noopBackend) RegisterReturn(context.Context, orderapi.ReturnRequest) (orderapi.ReturnResult, error) {
	return orderapi.ReturnResult{}, ErrNoBackend
}

// ── Instrumented backend ───────────────────────────────────────────────────────

// instrumentedBackend wraps the real client so every request lands in the
// backend counters and latency histogram, tagged by operation and outcome.
type instrumentedBackend struct {
	next OrderBackend
	met  *observe.Metrics
}

var _ OrderBackend = (*instrumentedBackend)(nil)

func (b *instrumentedBackend) SearchByPhone(ctx context.Context, number string) orderapi.IdentificationContext {
	start := time.Now()
	ic := b.next.SearchByPhone(ctx, number)
	b.record(ctx, "search_by_phone", start, !ic.Error)
	return ic
}

func (b *instrumentedBackend) SearchOrders(ctx context.Context, q orderapi.SearchQuery) ([]orderapi.Order, error) {
	start := time.Now()
	orders, err := b.next.SearchOrders(ctx, q)
	b.record(ctx, "search_orders", start, err == nil)
	return orders, err
}

func (b *instrumentedBackend) GetOrder(ctx context.Context, id string) (*orderapi.Order, error) {
	start := time.Now()
	o, err := b.next.GetOrder(ctx, id)
	b.record(ctx, "get_order", start, err == nil)
	return o, err
}

func (b *instrumentedBackend) RegisterReturn(ctx context.Context, req orderapi.ReturnRequest) (orderapi.ReturnResult, error) {
	start := time.Now()
	res, err := b.next.RegisterReturn(ctx, req)
	b.record(ctx, "register_return", start, err == nil)
	return res, err
}

func (b *instrumentedBackend) record(ctx context.Context, op string, start time.Time, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	b.met.RecordBackendRequest(ctx, op, outcome)
	b.met.BackendRequestDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}
