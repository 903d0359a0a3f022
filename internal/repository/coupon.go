package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petiteboutique/shop-api/internal/domain/coupon"
)

const (
	findCouponSQL = `SELECT code, discount_type, value, min_items, description,
		valid_from, valid_until, max_uses, uses, max_discount
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	redeemCouponSQL = `UPDATE coupons SET uses = uses + 1 WHERE code = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository loads promotion rules from the coupons table.
// Codes are matched case-insensitively; storefronts send them in
// whatever case the customer typed.
type CouponRepository struct {
	pool *pgxpool.Pool
}

func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode returns the active rule for code, or coupon.ErrInvalidCoupon
// when no such rule exists. Deactivated codes are indistinguishable from
// codes that never existed.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		minItems     int32
		maxUses      int32
		uses         int32
	)
	err := r.pool.QueryRow(ctx, findCouponSQL, code).Scan(
		&rule.Code, &discountType, &rule.Value, &minItems, &rule.Description,
		&rule.ValidFrom, &rule.ValidUntil, &maxUses, &uses, &rule.MaxDiscount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	rule.DiscountType = coupon.DiscountType(discountType)
	rule.MinItems = int(minItems)
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return &rule, nil
}

// IncrementUses records one redemption of the given code.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	if _, err := r.pool.Exec(ctx, redeemCouponSQL, code); err != nil {
		return fmt.Errorf("recording redemption of coupon %q: %w", code, err)
	}
	return nil
}
