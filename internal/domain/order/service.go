package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/petiteboutique/shop-api/internal/domain/coupon"
	"github.com/petiteboutique/shop-api/internal/domain/product"
	"github.com/petiteboutique/shop-api/internal/domain/shipping"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems             = errors.New("items required")
	ErrMissingShippingAddress = errors.New("shipping address required")
)

// ProductNotFoundError indicates a requested product does not exist or is
// no longer active.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CartItem is one entry of the incoming cart.
type CartItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order. Identity is
// either UserID (authenticated principal) or the guest fields, never both.
type PlaceOrderRequest struct {
	Items           []CartItem
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   string
	ShippingMethod  shipping.Method
	CouponCode      string
	UserID          string
	GuestEmail      string
	GuestName       string
}

// ServiceConfig carries the pricing knobs applied to every order.
type ServiceConfig struct {
	TaxRate            decimal.Decimal
	DonationPercentage decimal.Decimal
}

// Service coordinates order creation: it validates the cart, snapshots
// prices, computes totals, and hands the storage layer one atomic unit of
// work (order insert plus conditional stock reservations).
type Service struct {
	products product.Repository
	coupons  coupon.Validator
	orders   Repository
	shipping shipping.Calculator
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons coupon.Validator,
	orders Repository,
	shippingCalc shipping.Calculator,
	cfg ServiceConfig,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
		shipping: shippingCalc,
		cfg:      cfg,
		now:      time.Now,
	}
}

// PlaceOrder runs the full order creation transaction. Either exactly one
// order is persisted and every product's stock decremented, or storage is
// left untouched: the final commit re-checks stock and rolls everything
// back on a lost race, surfacing *product.InsufficientStockError.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.ShippingAddress.IsZero() {
		return nil, ErrMissingShippingAddress
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Resolve every item, snapshot effective prices, and pre-check stock.
	// The pre-check gives callers an early, specific failure; the
	// authoritative check happens again inside the commit.
	items := make([]LineItem, len(req.Items))
	reservations := make([]product.Reservation, len(req.Items))
	couponItems := make([]coupon.Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok || !p.Active {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if p.Stock < item.Quantity {
			return nil, &product.InsufficientStockError{Name: p.Name}
		}

		price := p.EffectivePrice()
		items[i] = LineItem{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			UnitPrice: price,
			Quantity:  item.Quantity,
		}
		reservations[i] = product.Reservation{ProductID: p.ID, Quantity: item.Quantity}
		couponItems[i] = coupon.Item{ProductID: p.ID, Price: price, Quantity: item.Quantity}
	}

	subtotal := decimal.Zero
	for i := range items {
		subtotal = subtotal.Add(items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity))))
	}

	// Apply coupon discount when a code is provided.
	discount := decimal.Zero
	if req.CouponCode != "" {
		d, err := s.coupons.Validate(ctx, req.CouponCode, couponItems)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		discount = d.Amount
	}

	now := s.now()
	o := &Order{
		ID:              uuid.New().String(),
		Items:           items,
		Discount:        discount,
		TaxRate:         s.cfg.TaxRate,
		ShippingCost:    s.shipping.Quote(req.ShippingMethod, subtotal),
		CouponCode:      req.CouponCode,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.BillingAddress != nil && !req.BillingAddress.IsZero() {
		o.BillingAddress = *req.BillingAddress
	} else {
		o.BillingAddress = req.ShippingAddress
	}

	// Registered customers are identified by user ID only; guest contact
	// fields are meaningful for guest checkouts alone.
	if req.UserID != "" {
		o.UserID = req.UserID
	} else {
		o.GuestEmail = req.GuestEmail
		o.GuestName = req.GuestName
	}

	o.SetStatus(StatusPending, now, "", "")
	o.CalculateTotals(s.cfg.DonationPercentage)

	// One atomic step: number allocation, order insert, and every
	// conditional stock decrement commit or roll back together.
	if err := s.orders.Create(ctx, o, reservations); err != nil {
		var insufficientErr *product.InsufficientStockError
		if errors.As(err, &insufficientErr) {
			return nil, insufficientErr
		}
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}
