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

type BillingRepository interface {
	Create(ctx context.Context, addr *model.BillingAddress) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.BillingAddress, error)
}

type pgBillingRepo struct{ pool *pgxpool.Pool }

func NewBillingRepository(pool *pgxpool.Pool) BillingRepository {
	return &pgBillingRepo{pool: pool}
}

func (r *pgBillingRepo) Create(ctx context.Context, addr *model.BillingAddress) error {
	addr.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO billing_addresses (id, user_id, house, apartment, city, state, pincode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING created_at`,
		addr.ID, addr.UserID, addr.House, addr.Apartment, addr.City, addr.State, addr.Pincode,
	).Scan(&addr.CreatedAt)
	if err != nil {
		return fmt.Errorf("create billing address: %w", err)
	}
	return nil
}

func (r *pgBillingRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.BillingAddress, error) {
	a := &model.BillingAddress{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, house, apartment, city, state, pincode, created_at FROM billing_addresses WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.House, &a.Apartment, &a.City, &a.State, &a.Pincode, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get billing address: %w", err)
	}
	return a, nil
}
