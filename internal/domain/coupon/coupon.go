// Package coupon holds the promotion rules applied at checkout: how a
// code is looked up, whether the cart qualifies, and what the discount
// is worth.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType selects how a rule's Value is interpreted.
type DiscountType string

const (
	// DiscountPercentage takes Value percent off the cart subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes Value off, never more than the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest makes the cheapest unit in the cart free.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCoupon covers both an unknown code and a cart that does
	// not meet the rule's minimum item count. The two are deliberately
	// indistinguishable to the caller.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired means the code exists but now is outside its
	// validity window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached means the code has been redeemed its
	// maximum number of times.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Rule is one promotion as stored in the coupons table.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	MaxDiscount  decimal.Decimal
}

// redeemableAt reports whether the rule's validity window contains t.
// A nil bound is open-ended.
func (r *Rule) redeemableAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && t.After(*r.ValidUntil) {
		return false
	}
	return true
}

// exhausted reports whether the rule's redemption budget is spent.
// MaxUses of zero means unlimited.
func (r *Rule) exhausted() bool {
	return r.MaxUses > 0 && r.Uses >= r.MaxUses
}

// Discount is the outcome of applying a rule to a cart.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item is the slice of an order line the discount math needs.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Repository loads rules and records redemptions.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IncrementUses(ctx context.Context, code string) error
}
