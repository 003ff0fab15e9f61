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

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	CreateLine(ctx context.Context, line *model.OrderLine) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// LockByID is GetByID with the order row locked.
	LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

func (r *pgOrderRepo) Create(ctx context.Context, order *model.Order) error {
	order.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO orders (id, user_id, billing_address_id, status, total_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.BillingAddressID, order.Status, order.TotalPrice,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *pgOrderRepo) CreateLine(ctx context.Context, line *model.OrderLine) error {
	line.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`,
		line.ID, line.OrderID, line.ProductID, line.Quantity, line.UnitPrice,
	).Scan(&line.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	return nil
}

const orderColumns = `o.id, o.user_id, o.billing_address_id, o.status, o.total_price, o.created_at, o.updated_at,
	b.id, b.user_id, b.house, b.apartment, b.city, b.state, b.pincode, b.created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	o := &model.Order{BillingAddress: &model.BillingAddress{}}
	b := o.BillingAddress
	err := row.Scan(
		&o.ID, &o.UserID, &o.BillingAddressID, &o.Status, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt,
		&b.ID, &b.UserID, &b.House, &b.Apartment, &b.City, &b.State, &b.Pincode, &b.CreatedAt,
	)
	return o, err
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+`
		FROM orders o JOIN billing_addresses b ON b.id = o.billing_address_id
		WHERE o.id = $1`, id)
}

func (r *pgOrderRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+`
		FROM orders o JOIN billing_addresses b ON b.id = o.billing_address_id
		WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *pgOrderRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Order, error) {
	order, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	lines, err := r.linesFor(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN billing_addresses b ON b.id = o.billing_address_id
		 WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (r *pgOrderRepo) linesFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]model.OrderLine, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, created_at
		 FROM order_lines WHERE order_id = ANY($1) ORDER BY created_at, id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[uuid.UUID][]model.OrderLine, len(orderIDs))
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines[l.OrderID] = append(lines[l.OrderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

func (r *pgOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
