package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/petiteboutique/shop-api/internal/domain/order"
	"github.com/petiteboutique/shop-api/internal/domain/product"
)

// Reconciler applies provider events to the order aggregate and the
// catalog, independently of the order creation path.
type Reconciler struct {
	products product.Repository
	stock    product.StockStore
	orders   order.Repository
	now      func() time.Time
}

// NewReconciler creates a Reconciler with the required dependencies.
func NewReconciler(products product.Repository, stock product.StockStore, orders order.Repository) *Reconciler {
	return &Reconciler{
		products: products,
		stock:    stock,
		orders:   orders,
		now:      time.Now,
	}
}

// OrderCompleted records an order that was paid through the provider.
// Line items are resolved against the catalog by SKU; unresolved SKUs keep
// their snapshot without a product reference and without a reservation.
// The order insert and every stock decrement commit atomically; a stock
// shortfall here means our accounting diverged from the provider's and is
// surfaced as a hard failure for manual reconciliation. Redelivery of an
// already-recorded order is a no-op.
func (r *Reconciler) OrderCompleted(ctx context.Context, ext *ExternalOrder) error {
	lg := zctx.From(ctx)

	skus := make([]string, len(ext.Items))
	for i, item := range ext.Items {
		skus[i] = strings.ToUpper(item.SKU)
	}

	known, err := r.products.GetBySKUs(ctx, skus)
	if err != nil {
		return errors.Wrap(err, "resolve products by sku")
	}
	bySKU := make(map[string]product.Product, len(known))
	for _, p := range known {
		bySKU[p.SKU] = p
	}

	items := make([]order.LineItem, len(ext.Items))
	reservations := make([]product.Reservation, 0, len(ext.Items))
	for i, item := range ext.Items {
		li := order.LineItem{
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
		if p, ok := bySKU[strings.ToUpper(item.SKU)]; ok {
			li.ProductID = p.ID
			reservations = append(reservations, product.Reservation{ProductID: p.ID, Quantity: item.Quantity})
		} else {
			lg.Warn("Unknown SKU in provider order, keeping snapshot only",
				zap.String("sku", item.SKU),
				zap.String("invoice_number", ext.InvoiceNumber),
			)
		}
		items[i] = li
	}

	now := r.now()
	o := &order.Order{
		ID:         uuid.New().String(),
		Number:     ext.InvoiceNumber,
		GuestEmail: ext.Email,
		GuestName:  ext.BillingAddress.FullName,
		Items:      items,

		// Provider totals are recorded verbatim: this event is the source
		// of truth for money, unlike the internally computed path.
		Subtotal:     ext.ItemsTotal,
		Tax:          ext.TaxesTotal,
		ShippingCost: ext.ShippingTotal,
		Total:        ext.GrandTotal,

		PaymentMethod:   Provider,
		PaymentProvider: Provider,
		TransactionID:   ext.Token,
		PaymentStatus:   order.PaymentCompleted,
		ShippingAddress: ext.ShippingAddress,
		BillingAddress:  ext.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.SetStatus(order.StatusConfirmed, now, "recorded from payment provider", "")

	if err := r.orders.Create(ctx, o, reservations); err != nil {
		if errors.Is(err, order.ErrNumberConflict) {
			lg.Info("Provider order already recorded, skipping",
				zap.String("invoice_number", ext.InvoiceNumber),
			)
			return nil
		}
		return errors.Wrapf(err, "record provider order %s", ext.InvoiceNumber)
	}

	lg.Info("Provider order recorded",
		zap.String("number", o.Number),
		zap.String("transaction_id", o.TransactionID),
	)
	return nil
}

// OrderStatusChanged applies a provider status transition to the matching
// order. A missing order is not an error: it may not have been created
// yet, or belongs to a different sales channel.
func (r *Reconciler) OrderStatusChanged(ctx context.Context, invoiceNumber, externalStatus string) error {
	lg := zctx.From(ctx)

	o, err := r.orders.GetByNumber(ctx, invoiceNumber)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Status event for unknown order, ignoring",
				zap.String("invoice_number", invoiceNumber),
				zap.String("external_status", externalStatus),
			)
			return nil
		}
		return errors.Wrapf(err, "lookup order %s", invoiceNumber)
	}

	status := MapStatus(externalStatus)
	change := order.StatusChange{
		Status: status,
		At:     r.now(),
		Note:   "updated from payment provider",
	}
	if err := r.orders.AppendStatus(ctx, o.ID, change); err != nil {
		return errors.Wrapf(err, "append status for order %s", o.Number)
	}

	lg.Info("Order status updated from provider",
		zap.String("number", o.Number),
		zap.String("status", string(status)),
	)
	return nil
}

// OrderRefunded applies a refund event, compensating stock for every line
// item. The payment status flip is conditional in storage, so a
// redelivered refund can never release stock twice.
func (r *Reconciler) OrderRefunded(ctx context.Context, orderToken string, amount decimal.Decimal) error {
	lg := zctx.From(ctx)

	o, err := r.orders.GetByTransactionID(ctx, orderToken)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Refund event for unknown transaction, ignoring",
				zap.String("order_token", orderToken),
			)
			return nil
		}
		return errors.Wrapf(err, "lookup order by transaction %s", orderToken)
	}

	if o.PaymentStatus.Refunded() {
		lg.Info("Refund already applied, skipping",
			zap.String("number", o.Number),
		)
		return nil
	}

	status := order.PaymentPartiallyRefunded
	if amount.Equal(o.Total) {
		status = order.PaymentRefunded
	}
	change := order.StatusChange{
		Status: order.StatusRefunded,
		At:     r.now(),
		Note:   "refund of " + amount.StringFixed(2),
	}

	applied, err := r.orders.MarkRefunded(ctx, o.ID, status, change)
	if err != nil {
		return errors.Wrapf(err, "mark order %s refunded", o.Number)
	}
	if !applied {
		// Lost the race against a concurrent delivery of the same event.
		lg.Info("Refund already applied, skipping",
			zap.String("number", o.Number),
		)
		return nil
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			continue
		}
		if err := r.stock.Release(ctx, item.ProductID, item.Quantity); err != nil {
			return errors.Wrapf(err, "release stock for product %s", item.ProductID)
		}
	}

	lg.Info("Refund applied",
		zap.String("number", o.Number),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("payment_status", string(status)),
	)
	return nil
}
