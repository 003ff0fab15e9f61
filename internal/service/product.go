package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/events"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

var tracer = otel.Tracer("storefront/service")

var (
	ErrProductNotFound = errors.New("product not found")
	ErrProductInUse    = errors.New("product is referenced by orders")
)

type ProductService struct {
	tx         repository.Transactor
	products   repository.ProductRepository
	categories repository.CategoryRepository
	offers     repository.OfferRepository
	guard      *InventoryGuard
	cache      *productCache
	publisher  events.Publisher
	log        *slog.Logger
	now        func() time.Time
}

func NewProductService(
	tx repository.Transactor,
	products repository.ProductRepository,
	categories repository.CategoryRepository,
	offers repository.OfferRepository,
	guard *InventoryGuard,
	redisClient *redis.Client,
	cacheTTL time.Duration,
	publisher events.Publisher,
	log *slog.Logger,
) *ProductService {
	return &ProductService{
		tx:         tx,
		products:   products,
		categories: categories,
		offers:     offers,
		guard:      guard,
		cache:      newProductCache(redisClient, cacheTTL, log),
		publisher:  publisher,
		log:        log,
		now:        time.Now,
	}
}

func (s *ProductService) Create(ctx context.Context, req dto.CreateProductRequest) (*model.Product, error) {
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}
	if req.Stock < 0 {
		return nil, ErrInvalidQuantity
	}

	product := &model.Product{
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Price:       req.Price.Round(2),
		OfferID:     req.OfferID,
		Stock:       req.Stock,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkCategory(ctx, product.CategoryID); err != nil {
			return err
		}
		offer, err := s.lockOffer(ctx, product.OfferID)
		if err != nil {
			return err
		}
		if err := s.applyEffectivePrice(ctx, product, offer); err != nil {
			return err
		}
		if err := s.products.Create(ctx, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	if p, ok := s.cache.get(ctx, id); ok {
		return p, nil
	}

	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	s.cache.set(ctx, product)
	return product, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	products, total, err := s.products.List(ctx, repository.ProductFilter{
		Category: req.Category,
		Limit:    req.Limit,
		Offset:   (req.Page - 1) * req.Limit,
		Sort:     req.Sort,
		Order:    req.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, dto.FromProduct(&products[i]))
	}
	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*model.Product, error) {
	var product *model.Product
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Offer before product: UpdateOffer holds the offer while it locks
		// the products that reference it.
		var offer *model.Offer
		var err error
		if !req.ClearOffer {
			if offer, err = s.lockOffer(ctx, req.OfferID); err != nil {
				return err
			}
		}
		product, err = s.products.LockByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if product == nil {
			return ErrProductNotFound
		}

		if req.Name != nil {
			product.Name = *req.Name
		}
		if req.Description != nil {
			product.Description = *req.Description
		}
		if req.CategoryID != nil {
			if err := s.checkCategory(ctx, *req.CategoryID); err != nil {
				return err
			}
			product.CategoryID = *req.CategoryID
		}
		if req.Price != nil {
			if err := validatePrice(*req.Price); err != nil {
				return err
			}
			product.Price = req.Price.Round(2)
		}
		switch {
		case req.ClearOffer:
			product.OfferID = nil
		case req.OfferID != nil:
			product.OfferID = req.OfferID
		}

		if err := s.applyEffectivePrice(ctx, product, offer); err != nil {
			return err
		}
		if err := s.products.Update(ctx, product); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(ctx, id)
	return product, nil
}

func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.products.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrProductNotFound
		case errors.Is(err, repository.ErrReferenced):
			return ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}
	s.cache.invalidate(ctx, id)
	return nil
}

// Restock adds qty units through the inventory guard and announces the change.
func (s *ProductService) Restock(ctx context.Context, id uuid.UUID, qty int) (*model.Product, error) {
	ctx, span := tracer.Start(ctx, "ProductService.Restock", trace.WithAttributes(
		attribute.String("product.id", id.String()),
	))
	defer span.End()

	var product *model.Product
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.guard.Release(ctx, id, qty); err != nil {
			return err
		}
		var err error
		product, err = s.products.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(ctx, id)
	s.publish(ctx, events.New(events.StockChanged, uuid.Nil, uuid.Nil,
		[]events.Line{{ProductID: id, Quantity: qty}}))
	return product, nil
}

// Reprice recomputes the effective price of every product whose offer has
// opened or closed since it was last priced. It returns the number of products
// changed.
func (s *ProductService) Reprice(ctx context.Context, day time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "ProductService.Reprice")
	defer span.End()

	products, err := s.products.ListWithOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	// One transaction per product keeps a single product lock held at a time.
	var changed []uuid.UUID
	for _, p := range products {
		repriced, err := s.repriceOne(ctx, p.ID, day)
		if err != nil {
			s.cache.invalidate(ctx, changed...)
			return len(changed), err
		}
		if repriced {
			changed = append(changed, p.ID)
		}
	}

	s.cache.invalidate(ctx, changed...)
	span.SetAttributes(attribute.Int("products.repriced", len(changed)))
	return len(changed), nil
}

// InvalidateCache drops cached copies of the given products.
func (s *ProductService) InvalidateCache(ctx context.Context, ids ...uuid.UUID) {
	s.cache.invalidate(ctx, ids...)
}

func (s *ProductService) checkCategory(ctx context.Context, id uuid.UUID) error {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return ErrCategoryNotFound
	}
	return nil
}

func (s *ProductService) repriceOne(ctx context.Context, id uuid.UUID, day time.Time) (bool, error) {
	var repriced bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.products.LockByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if p == nil || p.OfferID == nil {
			return nil
		}
		offer, err := s.offers.GetByID(ctx, *p.OfferID)
		if err != nil {
			return fmt.Errorf("get offer: %w", err)
		}

		price := EffectivePrice(p.Price, offer, day)
		if price.Equal(p.EffectivePrice) {
			return nil
		}
		if err := s.products.UpdateEffectivePrice(ctx, p.ID, price); err != nil {
			return err
		}
		repriced = true
		return nil
	})
	return repriced, err
}

// lockOffer share-locks the offer a product is about to reference so that
// UpdateOffer cannot commit between the price computation and the product
// write. A nil id locks nothing.
func (s *ProductService) lockOffer(ctx context.Context, id *uuid.UUID) (*model.Offer, error) {
	if id == nil {
		return nil, nil
	}
	offer, err := s.offers.ShareLockByID(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("lock offer: %w", err)
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

// applyEffectivePrice prices p from its offer. locked is used when it is the
// offer p references; any other offer is read without a lock, since
// UpdateOffer reprices p after it commits.
func (s *ProductService) applyEffectivePrice(ctx context.Context, p *model.Product, locked *model.Offer) error {
	offer := locked
	if p.OfferID == nil {
		offer = nil
	} else if offer == nil || offer.ID != *p.OfferID {
		var err error
		if offer, err = s.offers.GetByID(ctx, *p.OfferID); err != nil {
			return fmt.Errorf("get offer: %w", err)
		}
		if offer == nil {
			return ErrOfferNotFound
		}
	}
	p.EffectivePrice = EffectivePrice(p.Price, offer, s.now())
	return nil
}

func (s *ProductService) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Error("publish event", "event_type", e.Type, "error", err)
	}
}
