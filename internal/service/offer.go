package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
)

var ErrOfferNotFound = errors.New("offer not found")

func (s *ProductService) CreateOffer(ctx context.Context, req dto.OfferRequest) (*model.Offer, error) {
	offer := &model.Offer{
		DiscountPercentage: req.DiscountPercentage,
		StartDate:          model.Date(req.StartDate.Time),
		EndDate:            model.Date(req.EndDate.Time),
	}
	if err := validateOffer(offer); err != nil {
		return nil, err
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return offer, nil
}

// UpdateOffer edits the offer and recomputes the effective price of every
// product referencing it in the same transaction.
func (s *ProductService) UpdateOffer(ctx context.Context, id uuid.UUID, req dto.OfferRequest) (*model.Offer, error) {
	ctx, span := tracer.Start(ctx, "ProductService.UpdateOffer")
	defer span.End()

	var (
		offer    *model.Offer
		affected []uuid.UUID
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		offer, err = s.offers.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("get offer: %w", err)
		}
		if offer == nil {
			return ErrOfferNotFound
		}

		offer.DiscountPercentage = req.DiscountPercentage
		offer.StartDate = model.Date(req.StartDate.Time)
		offer.EndDate = model.Date(req.EndDate.Time)
		if err := validateOffer(offer); err != nil {
			return err
		}
		if err := s.offers.Update(ctx, offer); err != nil {
			return fmt.Errorf("update offer: %w", err)
		}

		products, err := s.products.ListByOfferID(ctx, id)
		if err != nil {
			return fmt.Errorf("list offer products: %w", err)
		}
		now := s.now()
		for _, p := range products {
			if err := s.products.UpdateEffectivePrice(ctx, p.ID, EffectivePrice(p.Price, offer, now)); err != nil {
				return err
			}
			affected = append(affected, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(ctx, affected...)
	return offer, nil
}
