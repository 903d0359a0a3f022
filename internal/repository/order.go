package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petiteboutique/shop-api/internal/domain/order"
	"github.com/petiteboutique/shop-api/internal/domain/product"
)

const (
	// Atomic per-year sequence bump. Either inserts the first value for a
	// fresh year or increments the existing row; the row lock serializes
	// concurrent allocations.
	nextOrderNumberSQL = `INSERT INTO order_sequences (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value`

	insertOrderSQL = `INSERT INTO orders (
			id, number, user_id, guest_email, guest_name, items,
			subtotal, discount, tax_rate, tax, shipping_cost, total, donation_amount,
			coupon_code, payment_method, payment_provider, transaction_id,
			payment_status, order_status, status_history,
			shipping_address, billing_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	orderColumns = `id, number, user_id, guest_email, guest_name, items,
		subtotal, discount, tax_rate, tax, shipping_cost, total, donation_amount,
		coupon_code, payment_method, payment_provider, transaction_id,
		payment_status, order_status, status_history,
		shipping_address, billing_address, created_at, updated_at`

	getOrderByIDSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	// Numbers recorded from provider invoices keep their original case,
	// so the comparison folds both sides.
	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE UPPER(number) = UPPER($1)`
	getOrderByTxIDSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE transaction_id = $1`

	appendStatusSQL = `UPDATE orders
		SET order_status = $2, status_history = status_history || $3::jsonb, updated_at = now()
		WHERE id = $1`

	// The payment_status guard makes refund application idempotent under
	// concurrent redelivery: only one update can match.
	markRefundedSQL = `UPDATE orders
		SET payment_status = $2, order_status = $3,
			status_history = status_history || $4::jsonb, updated_at = now()
		WHERE id = $1 AND payment_status NOT IN ('refunded', 'partially_refunded')`
)

// maxNumberAttempts bounds retries when a freshly allocated order number
// collides with one recorded out of band (e.g. a provider invoice number).
const maxNumberAttempts = 3

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and applies its stock reservations in a
// single transaction. When o.Number is empty, a number is taken from the
// per-year sequence first. The bump commits outside the order
// transaction: rolling back a collision must not rewind last_value, or
// every retry would recompute the same number and the collision would
// jam creation for good. Numbers burned by failed attempts leave gaps
// in the sequence. A failed reservation aborts the order transaction,
// leaving storage untouched.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, reservations []product.Reservation) error {
	allocate := o.Number == ""

	attempts := 1
	if allocate {
		attempts = maxNumberAttempts
	}
	for i := 0; i < attempts; i++ {
		if allocate {
			number, err := r.nextNumber(ctx, o.CreatedAt.Year())
			if err != nil {
				return err
			}
			o.Number = number
		}
		err := r.createOnce(ctx, o, reservations)
		if err == nil {
			return nil
		}
		if allocate && errors.Is(err, order.ErrNumberConflict) {
			o.Number = ""
			continue
		}
		return err
	}
	return order.ErrNumberConflict
}

// nextNumber advances the per-year sequence in its own implicit
// transaction and formats the resulting order number.
func (r *OrderRepository) nextNumber(ctx context.Context, year int) (string, error) {
	var seq int
	if err := r.pool.QueryRow(ctx, nextOrderNumberSQL, year).Scan(&seq); err != nil {
		return "", fmt.Errorf("allocating order number for year %d: %w", year, err)
	}
	return order.FormatNumber(year, seq), nil
}

func (r *OrderRepository) createOnce(ctx context.Context, o *order.Order, reservations []product.Reservation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin order transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	historyJSON, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshaling status history: %w", err)
	}
	shippingJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, nullable(o.UserID), nullable(o.GuestEmail), nullable(o.GuestName), itemsJSON,
		o.Subtotal, o.Discount, o.TaxRate, o.Tax, o.ShippingCost, o.Total, o.DonationAmount,
		o.CouponCode, o.PaymentMethod, o.PaymentProvider, o.TransactionID,
		string(o.PaymentStatus), string(o.Status), historyJSON,
		shippingJSON, billingJSON, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrNumberConflict
		}
		return fmt.Errorf("inserting order %q: %w", o.Number, err)
	}

	for _, res := range reservations {
		if err := reserve(ctx, tx, res.ProductID, res.Quantity); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.Number, err)
	}
	return nil
}

// GetByID returns an order by its internal identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByNumber returns an order by its human-readable number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

// GetByTransactionID returns an order by its payment provider transaction id.
func (r *OrderRepository) GetByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByTxIDSQL, transactionID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return &o, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE TRUE`
	args := []any{}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		sql += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND order_status = $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// AppendStatus persists a status transition and appends its history entry.
func (r *OrderRepository) AppendStatus(ctx context.Context, orderID string, change order.StatusChange) error {
	changeJSON, err := json.Marshal([]order.StatusChange{change})
	if err != nil {
		return fmt.Errorf("marshaling status change: %w", err)
	}
	tag, err := r.pool.Exec(ctx, appendStatusSQL, orderID, string(change.Status), changeJSON)
	if err != nil {
		return fmt.Errorf("appending status for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// MarkRefunded flips the payment status and appends the history entry in
// one conditional statement. It reports false when the order was already
// refunded, letting the caller skip stock compensation.
func (r *OrderRepository) MarkRefunded(ctx context.Context, orderID string, status order.PaymentStatus, change order.StatusChange) (bool, error) {
	changeJSON, err := json.Marshal([]order.StatusChange{change})
	if err != nil {
		return false, fmt.Errorf("marshaling status change: %w", err)
	}
	tag, err := r.pool.Exec(ctx, markRefundedSQL, orderID, string(status), string(change.Status), changeJSON)
	if err != nil {
		return false, fmt.Errorf("marking order %q refunded: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		userID        *string
		guestEmail    *string
		guestName     *string
		itemsJSON     []byte
		historyJSON   []byte
		shippingJSON  []byte
		billingJSON   []byte
		paymentStatus string
		orderStatus   string
	)
	err := row.Scan(
		&o.ID, &o.Number, &userID, &guestEmail, &guestName, &itemsJSON,
		&o.Subtotal, &o.Discount, &o.TaxRate, &o.Tax, &o.ShippingCost, &o.Total, &o.DonationAmount,
		&o.CouponCode, &o.PaymentMethod, &o.PaymentProvider, &o.TransactionID,
		&paymentStatus, &orderStatus, &historyJSON,
		&shippingJSON, &billingJSON, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	if userID != nil {
		o.UserID = *userID
	}
	if guestEmail != nil {
		o.GuestEmail = *guestEmail
	}
	if guestName != nil {
		o.GuestName = *guestName
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(orderStatus)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &o.StatusHistory); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling status history: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling billing address: %w", err)
	}
	return o, nil
}

// nullable maps empty strings to NULL so partial indexes and lookups see
// true absence instead of "".
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
