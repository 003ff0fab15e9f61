package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/telemetry"
)

var ErrCartLineNotFound = errors.New("cart line not found")

const (
	WarningStockLimited   = "stock_limited"
	WarningQuantityCapped = "quantity_capped"
)

// CartWarning reports a requested quantity that was lowered rather than rejected.
type CartWarning struct {
	LineID    uuid.UUID
	ProductID uuid.UUID
	Reason    string
	Requested int
	Applied   int
}

type CartService struct {
	tx       repository.Transactor
	carts    repository.CartRepository
	products repository.ProductRepository
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

func NewCartService(
	tx repository.Transactor,
	carts repository.CartRepository,
	products repository.ProductRepository,
	metrics *telemetry.Metrics,
	log *slog.Logger,
) *CartService {
	return &CartService{tx: tx, carts: carts, products: products, metrics: metrics, log: log}
}

func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	if err := s.loadLines(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddLine adds qty units of a product, merging into an existing line. Stock
// checks here are advisory; the reservation at checkout is authoritative.
func (s *CartService) AddLine(ctx context.Context, userID, productID uuid.UUID, qty int) (*model.Cart, error) {
	ctx, span := tracer.Start(ctx, "CartService.AddLine", trace.WithAttributes(
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var cart *model.Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if cart, err = s.lockedCart(ctx, userID); err != nil {
			return err
		}

		product, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			return ErrProductNotFound
		}

		line, err := s.carts.GetLineByProduct(ctx, cart.ID, productID)
		if err != nil {
			return fmt.Errorf("get cart line: %w", err)
		}

		if line == nil {
			if qty > product.Stock {
				return &StockError{ProductID: productID, Requested: qty, Available: product.Stock, Err: ErrOutOfStock}
			}
			if qty > model.MaxLineQuantity {
				return ErrQuantityLimitExceeded
			}
			line = &model.CartLine{CartID: cart.ID, ProductID: productID, Quantity: qty}
			if err := s.carts.CreateLine(ctx, line); err != nil {
				return fmt.Errorf("create cart line: %w", err)
			}
		} else {
			next := line.Quantity + qty
			if next > product.Stock {
				return &StockError{ProductID: productID, Requested: next, Available: product.Stock, Err: ErrInsufficientStock}
			}
			if next > model.MaxLineQuantity {
				return ErrQuantityLimitExceeded
			}
			if err := s.carts.UpdateLineQuantity(ctx, line.ID, next); err != nil {
				return fmt.Errorf("update cart line: %w", err)
			}
		}

		return s.recalculate(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) RemoveLine(ctx context.Context, userID, lineID uuid.UUID) (*model.Cart, error) {
	var cart *model.Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if cart, err = s.lockedCart(ctx, userID); err != nil {
			return err
		}

		line, err := s.carts.GetLine(ctx, lineID)
		if err != nil {
			return fmt.Errorf("get cart line: %w", err)
		}
		if line == nil {
			return ErrCartLineNotFound
		}
		if line.CartID != cart.ID {
			return ErrForbidden
		}

		if err := s.carts.DeleteLine(ctx, lineID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCartLineNotFound
			}
			return fmt.Errorf("delete cart line: %w", err)
		}
		return s.recalculate(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateQuantities sets line quantities from a lineID->qty map. Each requested
// quantity is lowered to available stock, then to the per-line cap, then raised
// to 1; every lowering is reported as a warning. Ids not in the user's cart are
// ignored.
func (s *CartService) UpdateQuantities(ctx context.Context, userID uuid.UUID, quantities map[uuid.UUID]int) (*model.Cart, []CartWarning, error) {
	ctx, span := tracer.Start(ctx, "CartService.UpdateQuantities")
	defer span.End()

	var (
		cart     *model.Cart
		warnings []CartWarning
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		warnings = nil
		var err error
		if cart, err = s.lockedCart(ctx, userID); err != nil {
			return err
		}

		lines, err := s.carts.ListLines(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("list cart lines: %w", err)
		}

		for _, line := range lines {
			requested, ok := quantities[line.ID]
			if !ok {
				continue
			}
			product, err := s.products.GetByID(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("get product: %w", err)
			}
			if product == nil {
				continue
			}

			var reasons []string
			applied := requested
			if applied > product.Stock {
				applied = product.Stock
				reasons = append(reasons, WarningStockLimited)
			}
			if applied > model.MaxLineQuantity {
				applied = model.MaxLineQuantity
				reasons = append(reasons, WarningQuantityCapped)
			}
			if applied < 1 {
				applied = 1
			}
			for _, reason := range reasons {
				warnings = append(warnings, CartWarning{
					LineID: line.ID, ProductID: line.ProductID,
					Reason: reason, Requested: requested, Applied: applied,
				})
			}

			if applied == line.Quantity {
				continue
			}
			if err := s.carts.UpdateLineQuantity(ctx, line.ID, applied); err != nil {
				return fmt.Errorf("update cart line: %w", err)
			}
		}

		return s.recalculate(ctx, cart)
	})
	if err != nil {
		return nil, nil, err
	}

	for _, w := range warnings {
		s.metrics.CartWarning(ctx, w.Reason)
		s.log.Info("cart quantity clamped",
			"user_id", userID, "line_id", w.LineID, "reason", w.Reason,
			"requested", w.Requested, "applied", w.Applied)
	}
	return cart, warnings, nil
}

func (s *CartService) lockedCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	locked, err := s.carts.LockCart(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	if locked == nil {
		return nil, fmt.Errorf("lock cart: cart %s not found", cart.ID)
	}
	return locked, nil
}

func (s *CartService) loadLines(ctx context.Context, cart *model.Cart) error {
	lines, err := s.carts.ListLines(ctx, cart.ID)
	if err != nil {
		return fmt.Errorf("list cart lines: %w", err)
	}
	for i := range lines {
		product, err := s.products.GetByID(ctx, lines[i].ProductID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		lines[i].Product = product
	}
	cart.Lines = lines
	return nil
}

// recalculate reloads the lines and stores their full re-summed total.
func (s *CartService) recalculate(ctx context.Context, cart *model.Cart) error {
	if err := s.loadLines(ctx, cart); err != nil {
		return err
	}
	total := decimal.Zero
	for _, l := range cart.Lines {
		total = total.Add(l.Subtotal())
	}
	if err := s.carts.UpdateTotal(ctx, cart.ID, total); err != nil {
		return fmt.Errorf("update cart total: %w", err)
	}
	cart.TotalPrice = total
	return nil
}
