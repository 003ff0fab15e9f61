package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront-api/internal/model"
)

type OfferRepository interface {
	Create(ctx context.Context, offer *model.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Offer, error)
	// ShareLockByID is GetByID holding a share lock, so the offer cannot be
	// edited until the surrounding transaction ends.
	ShareLockByID(ctx context.Context, id uuid.UUID) (*model.Offer, error)
	Update(ctx context.Context, offer *model.Offer) error
}

type pgOfferRepo struct{ pool *pgxpool.Pool }

func NewOfferRepository(pool *pgxpool.Pool) OfferRepository {
	return &pgOfferRepo{pool: pool}
}

func (r *pgOfferRepo) Create(ctx context.Context, offer *model.Offer) error {
	offer.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO offers (id, discount_percentage, start_date, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING created_at, updated_at`,
		offer.ID, offer.DiscountPercentage, offer.StartDate, offer.EndDate,
	).Scan(&offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return nil
}

const offerColumns = `id, discount_percentage, start_date, end_date, created_at, updated_at`

func (r *pgOfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	return r.get(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
}

func (r *pgOfferRepo) ShareLockByID(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	return r.get(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR SHARE`, id)
}

func (r *pgOfferRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Offer, error) {
	o := &model.Offer{}
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&o.ID, &o.DiscountPercentage, &o.StartDate, &o.EndDate, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

func (r *pgOfferRepo) Update(ctx context.Context, offer *model.Offer) error {
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE offers SET discount_percentage = $2, start_date = $3, end_date = $4, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		offer.ID, offer.DiscountPercentage, offer.StartDate, offer.EndDate,
	).Scan(&offer.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("update offer: %w", err)
	}
	return nil
}
