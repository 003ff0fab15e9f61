package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
)

type CartRepository interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// LockCart holds the cart row until the surrounding transaction ends.
	LockCart(ctx context.Context, cartID uuid.UUID) (*model.Cart, error)
	ListLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error)
	// LockLines is ListLines with the returned rows locked.
	LockLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error)
	GetLine(ctx context.Context, lineID uuid.UUID) (*model.CartLine, error)
	GetLineByProduct(ctx context.Context, cartID, productID uuid.UUID) (*model.CartLine, error)
	CreateLine(ctx context.Context, line *model.CartLine) error
	UpdateLineQuantity(ctx context.Context, lineID uuid.UUID, quantity int) error
	DeleteLine(ctx context.Context, lineID uuid.UUID) error
	ClearLines(ctx context.Context, cartID uuid.UUID) error
	UpdateTotal(ctx context.Context, cartID uuid.UUID, total decimal.Decimal) error
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

// GetOrCreateCart relies on the unique user_id constraint so racing callers
// converge on a single cart.
func (r *pgCartRepo) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO carts (id, user_id, total_price, created_at, updated_at)
		 VALUES ($1, $2, 0, NOW(), NOW()) ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	cart, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, fmt.Errorf("cart for user %s vanished after insert", userID)
	}
	return cart, nil
}

func (r *pgCartRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return r.get(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, userID)
}

func (r *pgCartRepo) LockCart(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	return r.get(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, cartID)
}

const cartColumns = `id, user_id, total_price, created_at, updated_at`

func (r *pgCartRepo) get(ctx context.Context, query string, arg uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	err := conn(ctx, r.pool).QueryRow(ctx, query, arg).
		Scan(&cart.ID, &cart.UserID, &cart.TotalPrice, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

const cartLineColumns = `id, cart_id, product_id, quantity, created_at, updated_at`

func (r *pgCartRepo) ListLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	return r.listLines(ctx, `SELECT `+cartLineColumns+` FROM cart_lines WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
}

func (r *pgCartRepo) LockLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	return r.listLines(ctx, `SELECT `+cartLineColumns+` FROM cart_lines WHERE cart_id = $1 ORDER BY created_at, id FOR UPDATE`, cartID)
}

func (r *pgCartRepo) listLines(ctx context.Context, query string, cartID uuid.UUID) ([]model.CartLine, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *pgCartRepo) GetLine(ctx context.Context, lineID uuid.UUID) (*model.CartLine, error) {
	return r.getLine(ctx, `SELECT `+cartLineColumns+` FROM cart_lines WHERE id = $1`, lineID)
}

func (r *pgCartRepo) GetLineByProduct(ctx context.Context, cartID, productID uuid.UUID) (*model.CartLine, error) {
	return r.getLine(ctx, `SELECT `+cartLineColumns+` FROM cart_lines WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
}

func (r *pgCartRepo) getLine(ctx context.Context, query string, args ...any) (*model.CartLine, error) {
	l := &model.CartLine{}
	err := conn(ctx, r.pool).QueryRow(ctx, query, args...).
		Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	return l, nil
}

func (r *pgCartRepo) CreateLine(ctx context.Context, line *model.CartLine) error {
	line.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO cart_lines (id, cart_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING created_at, updated_at`,
		line.ID, line.CartID, line.ProductID, line.Quantity,
	).Scan(&line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add cart line: %w", err)
	}
	return nil
}

func (r *pgCartRepo) UpdateLineQuantity(ctx context.Context, lineID uuid.UUID, quantity int) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE cart_lines SET quantity = $2, updated_at = NOW() WHERE id = $1`, lineID, quantity)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	return nil
}

func (r *pgCartRepo) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	ct, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCartRepo) ClearLines(ctx context.Context, cartID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (r *pgCartRepo) UpdateTotal(ctx context.Context, cartID uuid.UUID, total decimal.Decimal) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE carts SET total_price = $2, updated_at = NOW() WHERE id = $1`, cartID, total)
	if err != nil {
		return fmt.Errorf("update cart total: %w", err)
	}
	return nil
}
