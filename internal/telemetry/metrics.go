package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider installs a Prometheus-backed MeterProvider globally and
// returns the /metrics handler and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// Metrics holds the storefront counters. A nil *Metrics records nothing.
type Metrics struct {
	ordersPlaced    metric.Int64Counter
	ordersCancelled metric.Int64Counter
	reservations    metric.Int64Counter
	releasedUnits   metric.Int64Counter
	cartWarnings    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.ordersPlaced, err = meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders placed")); err != nil {
		return nil, err
	}
	if m.ordersCancelled, err = meter.Int64Counter("storefront.orders.cancelled",
		metric.WithDescription("Orders moved to cancelled")); err != nil {
		return nil, err
	}
	if m.reservations, err = meter.Int64Counter("storefront.inventory.reservations",
		metric.WithDescription("Stock reservation attempts by result")); err != nil {
		return nil, err
	}
	if m.releasedUnits, err = meter.Int64Counter("storefront.inventory.released_units",
		metric.WithDescription("Units returned to stock")); err != nil {
		return nil, err
	}
	if m.cartWarnings, err = meter.Int64Counter("storefront.cart.quantity_warnings",
		metric.WithDescription("Cart quantities clamped during update")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) OrderPlaced(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1)
}

func (m *Metrics) OrderCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersCancelled.Add(ctx, 1)
}

func (m *Metrics) Reservation(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "reserved"
	if !ok {
		result = "insufficient"
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) Released(ctx context.Context, units int) {
	if m == nil {
		return
	}
	m.releasedUnits.Add(ctx, int64(units))
}

func (m *Metrics) CartWarning(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.cartWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
