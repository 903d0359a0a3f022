// Package payment reconciles external payment-provider events with the
// order aggregate. Events arrive through the webhook ingress, which has
// already verified their authenticity; the provider may redeliver any
// event, so every handler here is safe to invoke more than once.
package payment

import (
	"github.com/shopspring/decimal"

	"github.com/petiteboutique/shop-api/internal/domain/order"
)

// Provider is the payment method and provider tag recorded on orders that
// originate from the checkout widget.
const Provider = "snipcart"

// ExternalItem is one line item of a provider order payload. SKU doubles
// as the provider-side product id.
type ExternalItem struct {
	SKU      string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// ExternalOrder is the order payload of an order.completed event. Its
// totals are the provider's source of truth and are recorded verbatim.
type ExternalOrder struct {
	InvoiceNumber string
	Token         string
	Email         string
	Items         []ExternalItem

	ItemsTotal    decimal.Decimal
	TaxesTotal    decimal.Decimal
	ShippingTotal decimal.Decimal
	GrandTotal    decimal.Decimal

	ShippingAddress order.Address
	BillingAddress  order.Address
}

// statusMap translates the provider's status vocabulary to ours.
var statusMap = map[string]order.Status{
	"InProgress": order.StatusProcessing,
	"Processed":  order.StatusConfirmed,
	"Shipped":    order.StatusShipped,
	"Delivered":  order.StatusDelivered,
	"Cancelled":  order.StatusCancelled,
}

// MapStatus translates an external status string to the internal status
// enum. Unknown values map to pending rather than failing: the provider
// vocabulary grows without notice.
func MapStatus(external string) order.Status {
	if s, ok := statusMap[external]; ok {
		return s
	}
	return order.StatusPending
}
