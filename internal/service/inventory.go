package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/telemetry"
)

// InventoryGuard is the only path that changes stock_quantity. Both operations
// are single conditional statements, so they join whatever transaction ctx
// carries and never drive stock negative.
type InventoryGuard struct {
	products repository.ProductRepository
	metrics  *telemetry.Metrics
}

func NewInventoryGuard(products repository.ProductRepository, metrics *telemetry.Metrics) *InventoryGuard {
	return &InventoryGuard{products: products, metrics: metrics}
}

func (g *InventoryGuard) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	ctx, span := tracer.Start(ctx, "InventoryGuard.Reserve", trace.WithAttributes(
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty < 1 {
		return ErrInvalidQuantity
	}

	ok, err := g.products.DecrementStock(ctx, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	g.metrics.Reservation(ctx, ok)
	if ok {
		return nil
	}

	product, err := g.products.GetByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return ErrProductNotFound
	}
	return &StockError{ProductID: productID, Requested: qty, Available: product.Stock, Err: ErrInsufficientStock}
}

func (g *InventoryGuard) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	ctx, span := tracer.Start(ctx, "InventoryGuard.Release", trace.WithAttributes(
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty < 1 {
		return ErrInvalidQuantity
	}

	ok, err := g.products.IncrementStock(ctx, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if !ok {
		return ErrProductNotFound
	}
	g.metrics.Released(ctx, qty)
	return nil
}
