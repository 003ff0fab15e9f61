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

type ProductFilter struct {
	Category string
	Limit    int
	Offset   int
	Sort     string
	Order    string
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// LockByID is GetByID with the product row locked until the transaction
	// ends. Product locks never block the key share taken by foreign key
	// checks on order and cart lines.
	LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int, error)
	// ListByOfferID locks the returned rows in id order.
	ListByOfferID(ctx context.Context, offerID uuid.UUID) ([]model.Product, error)
	ListWithOffers(ctx context.Context) ([]model.Product, error)
	Update(ctx context.Context, product *model.Product) error
	UpdateEffectivePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DecrementStock reports false when the product is missing or holds less than quantity.
	DecrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
	// IncrementStock reports false when the product is missing.
	IncrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
}

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

const productColumns = `id, name, description, category_id, price, offer_id, effective_price, stock_quantity, created_at, updated_at`

func scanProduct(row pgx.Row, p *model.Product) error {
	return row.Scan(
		&p.ID, &p.Name, &p.Description, &p.CategoryID, &p.Price, &p.OfferID,
		&p.EffectivePrice, &p.Stock, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *pgProductRepo) Create(ctx context.Context, product *model.Product) error {
	product.ID = uuid.New()
	query := `INSERT INTO products (id, name, description, category_id, price, offer_id, effective_price, stock_quantity, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		product.ID, product.Name, product.Description, product.CategoryID,
		product.Price, product.OfferID, product.EffectivePrice, product.Stock,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *pgProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r *pgProductRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR NO KEY UPDATE`, id)
}

func (r *pgProductRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Product, error) {
	p := &model.Product{}
	err := scanProduct(conn(ctx, r.pool).QueryRow(ctx, query, id), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepo) List(ctx context.Context, f ProductFilter) ([]model.Product, int, error) {
	allowedSorts := map[string]bool{"name": true, "price": true, "created_at": true}
	if !allowedSorts[f.Sort] {
		f.Sort = "created_at"
	}
	if f.Order != "asc" && f.Order != "desc" {
		f.Order = "desc"
	}

	const where = `WHERE ($1 = '' OR category_id IN (SELECT id FROM categories WHERE LOWER(name) = LOWER($1)))`

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM products `+where, f.Category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY %s %s, id LIMIT $2 OFFSET $3`,
		productColumns, where, f.Sort, f.Order)
	rows, err := conn(ctx, r.pool).Query(ctx, query, f.Category, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *pgProductRepo) ListByOfferID(ctx context.Context, offerID uuid.UUID) ([]model.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE offer_id = $1 ORDER BY id FOR NO KEY UPDATE`, offerID)
	if err != nil {
		return nil, fmt.Errorf("list products by offer: %w", err)
	}
	return collectProducts(rows)
}

func (r *pgProductRepo) ListWithOffers(ctx context.Context) ([]model.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE offer_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products with offers: %w", err)
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]model.Product, error) {
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// Update writes catalog fields only. Stock moves through DecrementStock and IncrementStock.
func (r *pgProductRepo) Update(ctx context.Context, product *model.Product) error {
	query := `UPDATE products SET name=$2, description=$3, category_id=$4, price=$5, offer_id=$6, effective_price=$7, updated_at=NOW()
			  WHERE id=$1 RETURNING updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		product.ID, product.Name, product.Description, product.CategoryID,
		product.Price, product.OfferID, product.EffectivePrice,
	).Scan(&product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

func (r *pgProductRepo) UpdateEffectivePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET effective_price = $2, updated_at = NOW() WHERE id = $1`, id, price)
	if err != nil {
		return fmt.Errorf("update effective price: %w", err)
	}
	return nil
}

func (r *pgProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrReferenced
		}
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// The conditional UPDATE takes the row lock, so concurrent decrements against one
// product serialize and re-check the predicate after the competing commit.
func (r *pgProductRepo) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW() WHERE id = $1 AND stock_quantity >= $2`,
		id, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *pgProductRepo) IncrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW() WHERE id = $1`,
		id, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("increment stock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
