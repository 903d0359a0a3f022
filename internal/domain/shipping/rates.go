// Package shipping computes delivery costs for orders and quotes the
// available delivery options to the checkout widget.
package shipping

import "github.com/shopspring/decimal"

// Method identifies a delivery method.
type Method string

const (
	MethodStandard Method = "standard"
	MethodExpress  Method = "express"
	MethodRelay    Method = "relay_point"
)

// Rates holds the configured cost of each method. Standard delivery is
// free once the order subtotal reaches FreeStandardAbove (when positive).
type Rates struct {
	Standard          decimal.Decimal
	Express           decimal.Decimal
	Relay             decimal.Decimal
	FreeStandardAbove decimal.Decimal
}

// DefaultRates mirrors the store's published delivery pricing.
func DefaultRates() Rates {
	return Rates{
		Standard:          decimal.RequireFromString("5.90"),
		Express:           decimal.RequireFromString("12.90"),
		Relay:             decimal.RequireFromString("3.90"),
		FreeStandardAbove: decimal.NewFromInt(50),
	}
}

// Option is one delivery choice offered for a given cart.
type Option struct {
	Method         Method
	Cost           decimal.Decimal
	Description    string
	GuaranteedDays int
}

// Calculator quotes delivery costs from a fixed rate table.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator using the given rate table.
func NewCalculator(rates Rates) Calculator {
	return Calculator{rates: rates}
}

// Quote returns the delivery cost for the chosen method and subtotal.
// Unknown methods fall back to standard delivery.
func (c Calculator) Quote(method Method, subtotal decimal.Decimal) decimal.Decimal {
	switch method {
	case MethodExpress:
		return c.rates.Express
	case MethodRelay:
		return c.rates.Relay
	default:
		return c.standardCost(subtotal)
	}
}

// Options lists every delivery choice for the given subtotal, in the
// order they are presented at checkout.
func (c Calculator) Options(subtotal decimal.Decimal) []Option {
	standard := Option{
		Method:         MethodStandard,
		Cost:           c.standardCost(subtotal),
		Description:    "Standard delivery (3-5 days)",
		GuaranteedDays: 5,
	}
	if standard.Cost.IsZero() {
		standard.Description = "Free standard delivery"
	}

	return []Option{
		standard,
		{
			Method:         MethodExpress,
			Cost:           c.rates.Express,
			Description:    "Express delivery (1-2 days)",
			GuaranteedDays: 2,
		},
		{
			Method:         MethodRelay,
			Cost:           c.rates.Relay,
			Description:    "Relay point (3-5 days)",
			GuaranteedDays: 5,
		},
	}
}

func (c Calculator) standardCost(subtotal decimal.Decimal) decimal.Decimal {
	if c.rates.FreeStandardAbove.IsPositive() && subtotal.GreaterThanOrEqual(c.rates.FreeStandardAbove) {
		return decimal.Zero
	}
	return c.rates.Standard
}
