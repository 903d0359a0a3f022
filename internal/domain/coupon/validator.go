package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a coupon code against a cart and prices the
// discount.
type Validator interface {
	Validate(ctx context.Context, code string, items []Item) (*Discount, error)
}

// RepoValidator is the production Validator: rules come from the
// Repository and each successful validation counts as a redemption.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks the code's window and redemption budget, prices the
// discount against the cart, and bumps the usage counter. The counter
// update is not transactional with the order commit; a rejected order
// after a successful validation burns one use, which is acceptable for
// promotion accounting.
func (v *RepoValidator) Validate(ctx context.Context, code string, items []Item) (*Discount, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.redeemableAt(v.now()) {
		return nil, ErrCouponExpired
	}
	if rule.exhausted() {
		return nil, ErrCouponUsageLimitReached
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, err
	}

	if err := v.repo.IncrementUses(ctx, code); err != nil {
		return nil, errors.Wrap(err, "increment coupon uses")
	}
	return &d, nil
}
