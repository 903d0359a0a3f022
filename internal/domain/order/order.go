package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/petiteboutique/shop-api/internal/domain/product"
)

// PaymentStatus tracks how far the payment for an order has progressed.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentAuthorized        PaymentStatus = "authorized"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Refunded reports whether any refund has already been applied.
func (s PaymentStatus) Refunded() bool {
	return s == PaymentRefunded || s == PaymentPartiallyRefunded
}

// Status tracks the fulfillment lifecycle of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrNumberConflict is returned when an order number is already taken.
	// Safe to retry the whole creation.
	ErrNumberConflict = errors.New("order number already taken")
)

// Address is a structured postal address for shipping or billing.
type Address struct {
	FullName   string `json:"fullName"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero reports whether the address carries no data at all.
func (a Address) IsZero() bool {
	return a == Address{}
}

// LineItem is a snapshot of one product frozen into the order at creation
// time. Later catalog price changes never alter persisted orders.
type LineItem struct {
	ProductID string          `json:"productId,omitempty"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// StatusChange is a single append-only entry in an order's status history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
	Actor  string    `json:"actor,omitempty"`
}

// Order is the aggregate for a customer order: line item snapshots,
// monetary totals, payment state, and an append-only status history.
// Identified both by an internal ID and a human-readable number of the
// form ORD-<year>-<6-digit-sequence>.
type Order struct {
	ID         string
	Number     string
	UserID     string
	GuestEmail string
	GuestName  string

	Items []LineItem

	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	TaxRate        decimal.Decimal
	Tax            decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
	DonationAmount decimal.Decimal

	CouponCode      string
	PaymentMethod   string
	PaymentProvider string
	TransactionID   string
	PaymentStatus   PaymentStatus
	Status          Status
	StatusHistory   []StatusChange

	ShippingAddress Address
	BillingAddress  Address

	CreatedAt time.Time
	UpdatedAt time.Time
}

var hundred = decimal.NewFromInt(100)

// CalculateTotals recomputes every derived monetary field from the line
// items. Invoked explicitly by the service layer before persistence:
//
//	subtotal = sum(unit price x quantity)
//	tax      = (subtotal - discount) x taxRate / 100
//	total    = subtotal - discount + tax + shipping
//	donation = subtotal x donationPercentage / 100 (informational only)
func (o *Order) CalculateTotals(donationPercentage decimal.Decimal) {
	subtotal := decimal.Zero
	for i := range o.Items {
		item := &o.Items[i]
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.Subtotal)
	}
	o.Subtotal = subtotal

	afterDiscount := subtotal.Sub(o.Discount)
	o.Tax = afterDiscount.Mul(o.TaxRate).Div(hundred).Round(2)
	o.Total = afterDiscount.Add(o.Tax).Add(o.ShippingCost).Round(2)
	o.DonationAmount = subtotal.Mul(donationPercentage).Div(hundred).Round(2)
}

// SetStatus transitions the order to a new status and appends a history
// entry. History is append-only; entries are never rewritten.
func (o *Order) SetStatus(status Status, at time.Time, note, actor string) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusChange{
		Status: status,
		At:     at,
		Note:   note,
		Actor:  actor,
	})
}

// FormatNumber builds an order number for the given year and sequence,
// e.g. FormatNumber(2024, 1) == "ORD-2024-000001".
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("ORD-%04d-%06d", year, seq)
}

// ListFilter narrows List results.
type ListFilter struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}

// Repository defines persistence operations for orders.
//
// Create is the unit of work for order placement: the order insert, the
// number allocation (when o.Number is empty, from the per-year sequence of
// o.CreatedAt), and every stock reservation commit or roll back as one
// step. A reservation that cannot be covered fails the whole call with
// *product.InsufficientStockError; a taken number fails it with
// ErrNumberConflict. On success o.Number is populated.
type Repository interface {
	Create(ctx context.Context, o *Order, reservations []product.Reservation) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)

	// AppendStatus persists a status transition and its history entry.
	AppendStatus(ctx context.Context, orderID string, change StatusChange) error

	// MarkRefunded flips the payment status and appends the history entry
	// only when the order has not been refunded yet. It reports whether
	// the update was applied, allowing callers to skip compensation on
	// redelivered refund events.
	MarkRefunded(ctx context.Context, orderID string, status PaymentStatus, change StatusChange) (bool, error)
}
