package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/petiteboutique/shop-api/internal/domain/product"
)

const (
	productColumns = `id, sku, slug, name, description, price, discount_price, stock, sold_count, category, active`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE active = TRUE ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	getProductsBySKUsSQL = `SELECT ` + productColumns + ` FROM products WHERE sku = ANY($1)`

	// Conditional decrement: the WHERE clause re-checks stock at commit
	// time, so concurrent reservations can never drive stock negative.
	reserveStockSQL = `UPDATE products
		SET stock = stock - $2, sold_count = sold_count + $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	releaseStockSQL = `UPDATE products
		SET stock = stock + $2, sold_count = GREATEST(sold_count - $2, 0), updated_at = now()
		WHERE id = $1`

	getProductNameSQL = `SELECT name FROM products WHERE id = $1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ product.StockStore = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and product.StockStore
// backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetBySKUs returns products matching any of the given SKUs.
func (r *ProductRepository) GetBySKUs(ctx context.Context, skus []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsBySKUsSQL, skus)
	if err != nil {
		return nil, fmt.Errorf("getting products by skus: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Reserve decrements stock and increments sold_count in one conditional
// statement. It returns *product.InsufficientStockError when the current
// stock does not cover qty.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty int) error {
	return reserve(ctx, r.pool, productID, qty)
}

// Release unconditionally restores stock and decrements sold_count,
// floored at zero.
func (r *ProductRepository) Release(ctx context.Context, productID string, qty int) error {
	_, err := r.pool.Exec(ctx, releaseStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("releasing stock for product %q: %w", productID, err)
	}
	return nil
}

// querier is the subset of pgx shared by pools and transactions, letting
// the stock operations run standalone or inside the order unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func reserve(ctx context.Context, q querier, productID string, qty int) error {
	tag, err := q.Exec(ctx, reserveStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("reserving stock for product %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		// Name the product in the error when we can; the id is still
		// better than nothing if the lookup fails too.
		name := productID
		var fetched string
		if err := q.QueryRow(ctx, getProductNameSQL, productID).Scan(&fetched); err == nil {
			name = fetched
		}
		return &product.InsufficientStockError{Name: name}
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p             product.Product
		price         decimal.Decimal
		discountPrice *decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.SKU, &p.Slug, &p.Name, &p.Description,
		&price, &discountPrice, &p.Stock, &p.SoldCount,
		&p.Category, &p.Active,
	)
	p.Price = price
	if discountPrice != nil {
		p.DiscountPrice = *discountPrice
	}
	return p, err
}
