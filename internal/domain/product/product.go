package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// InsufficientStockError indicates a requested quantity exceeds the
// available stock for a product. Callers may retry with a smaller cart.
type InsufficientStockError struct {
	Name string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.Name)
}

// Product represents a catalog item. Products are never hard-deleted:
// retired items are deactivated via the Active flag so historical orders
// keep a valid reference.
type Product struct {
	ID            string
	SKU           string
	Slug          string
	Name          string
	Description   string
	Price         decimal.Decimal
	DiscountPrice decimal.Decimal
	Stock         int
	SoldCount     int
	Category      string
	Active        bool
}

// EffectivePrice returns the discount price when one is set, otherwise the
// base price. A discount price must be strictly below the base price to
// take effect.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.IsPositive() && p.DiscountPrice.LessThan(p.Price) {
		return p.DiscountPrice
	}
	return p.Price
}

// Reservation pairs a product with a quantity to decrement at commit time.
type Reservation struct {
	ProductID string
	Quantity  int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetBySKUs(ctx context.Context, skus []string) ([]Product, error)
}

// StockStore exposes the two atomic stock operations. Reserve decrements
// stock and increments sold_count only when the current stock covers qty;
// it returns InsufficientStockError otherwise. Release unconditionally
// restores stock and decrements sold_count, floored at zero. Both must be
// safe under arbitrary concurrent callers.
type StockStore interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}
