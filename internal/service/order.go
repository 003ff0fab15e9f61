package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/events"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/telemetry"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

type BillingDetails struct {
	House     string
	Apartment string
	City      string
	State     string
	Pincode   string
}

type OrderService struct {
	tx        repository.Transactor
	orders    repository.OrderRepository
	carts     repository.CartRepository
	billing   repository.BillingRepository
	products  repository.ProductRepository
	guard     *InventoryGuard
	publisher events.Publisher
	metrics   *telemetry.Metrics
	log       *slog.Logger
}

func NewOrderService(
	tx repository.Transactor,
	orders repository.OrderRepository,
	carts repository.CartRepository,
	billing repository.BillingRepository,
	products repository.ProductRepository,
	guard *InventoryGuard,
	publisher events.Publisher,
	metrics *telemetry.Metrics,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		tx: tx, orders: orders, carts: carts, billing: billing, products: products,
		guard: guard, publisher: publisher, metrics: metrics, log: log,
	}
}

// PlaceOrder turns the user's cart into a pending order. Every write, including
// the stock reservations, happens in one transaction: a line that cannot be
// reserved leaves no order, no reservation and the cart untouched.
func (s *OrderService) PlaceOrder(ctx context.Context, userID uuid.UUID, details BillingDetails) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get cart: %w", err)
		}
		if cart == nil {
			return ErrEmptyCart
		}
		if cart, err = s.carts.LockCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if cart == nil {
			return ErrEmptyCart
		}
		lines, err := s.carts.LockLines(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("lock cart lines: %w", err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		addr := &model.BillingAddress{
			UserID:    userID,
			House:     details.House,
			Apartment: details.Apartment,
			City:      details.City,
			State:     details.State,
			Pincode:   details.Pincode,
		}
		if err := s.billing.Create(ctx, addr); err != nil {
			return fmt.Errorf("create billing address: %w", err)
		}

		order = &model.Order{
			UserID:           userID,
			BillingAddressID: addr.ID,
			BillingAddress:   addr,
			Status:           model.OrderStatusPending,
			TotalPrice:       cart.TotalPrice,
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, l := range lines {
			product, err := s.products.GetByID(ctx, l.ProductID)
			if err != nil {
				return fmt.Errorf("get product: %w", err)
			}
			if product == nil {
				return ErrProductNotFound
			}
			if product.Stock < l.Quantity {
				return &StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: product.Stock, Err: ErrInsufficientStock}
			}

			line := &model.OrderLine{
				OrderID:   order.ID,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: product.EffectivePrice,
			}
			if err := s.orders.CreateLine(ctx, line); err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
			order.Lines = append(order.Lines, *line)
		}

		for _, l := range inProductOrder(order.Lines) {
			if err := s.guard.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}

		if err := s.carts.ClearLines(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		if err := s.carts.UpdateTotal(ctx, cart.ID, decimal.Zero); err != nil {
			return fmt.Errorf("reset cart total: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	s.metrics.OrderPlaced(ctx)
	s.log.Info("order placed", "order_id", order.ID, "user_id", userID, "lines", len(order.Lines), "total", order.TotalPrice)
	s.publish(ctx, events.OrderPlaced, order)
	return order, nil
}

// CancelOrder cancels a pending order owned by userID and returns its stock.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
	))
	defer span.End()

	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return ErrForbidden
		}
		return s.transition(ctx, order, model.OrderStatusCancelled)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.afterTransition(ctx, order)
	return order, nil
}

// UpdateStatus moves an order along the status machine on behalf of
// fulfillment. Cancelling restocks exactly like CancelOrder.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if order, err = s.lockOrder(ctx, orderID); err != nil {
			return err
		}
		return s.transition(ctx, order, status)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.afterTransition(ctx, order)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := s.orders.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) lockOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orders.LockByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// transition applies next to a locked order, releasing every line when the
// order is cancelled.
func (s *OrderService) transition(ctx context.Context, order *model.Order, next model.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, next)
	}

	if next == model.OrderStatusCancelled {
		for _, l := range inProductOrder(order.Lines) {
			if err := s.guard.Release(ctx, l.ProductID, l.Quantity); err != nil {
				return fmt.Errorf("release stock: %w", err)
			}
		}
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, next); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	order.Status = next
	return nil
}

// inProductOrder returns lines sorted by product id, the order in which every
// multi-product writer takes product row locks.
func inProductOrder(lines []model.OrderLine) []model.OrderLine {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b model.OrderLine) int {
		return bytes.Compare(a.ProductID[:], b.ProductID[:])
	})
	return sorted
}

func (s *OrderService) afterTransition(ctx context.Context, order *model.Order) {
	s.log.Info("order status changed", "order_id", order.ID, "status", order.Status)
	if order.Status == model.OrderStatusCancelled {
		s.metrics.OrderCancelled(ctx)
		s.publish(ctx, events.OrderCancelled, order)
	}
}

func (s *OrderService) publish(ctx context.Context, t events.Type, order *model.Order) {
	if s.publisher == nil {
		return
	}
	lines := make([]events.Line, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, events.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if err := s.publisher.Publish(ctx, events.New(t, order.ID, order.UserID, lines)); err != nil {
		s.log.Error("publish event", "event_type", t, "order_id", order.ID, "error", err)
	}
}
