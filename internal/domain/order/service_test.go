package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/petiteboutique/shop-api/internal/domain/coupon"
	"github.com/petiteboutique/shop-api/internal/domain/product"
	"github.com/petiteboutique/shop-api/internal/domain/shipping"
)

type mockProductRepo struct {
	products map[string]product.Product
	err      error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, m.err
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if p, ok := m.products[id]; ok {
		return &p, nil
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) GetBySKUs(_ context.Context, skus []string) ([]product.Product, error) {
	var out []product.Product
	for _, sku := range skus {
		for _, p := range m.products {
			if p.SKU == sku {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type mockValidator struct {
	discount *coupon.Discount
	err      error
	gotCode  string
	gotItems []coupon.Item
}

func (m *mockValidator) Validate(_ context.Context, code string, items []coupon.Item) (*coupon.Discount, error) {
	m.gotCode = code
	m.gotItems = items
	return m.discount, m.err
}

// memOrderRepo is an in-memory Repository with the same commit semantics
// as the real one: stock is re-checked and decremented atomically with the
// order insert, and numbers come from a per-year sequence. Safe for
// concurrent use.
type memOrderRepo struct {
	mu         sync.Mutex
	stock      map[string]int
	orders     map[string]*Order
	seqs       map[int]int
	failCreate error
}

func newMemOrderRepo(stock map[string]int) *memOrderRepo {
	return &memOrderRepo{
		stock:  stock,
		orders: make(map[string]*Order),
		seqs:   make(map[int]int),
	}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order, reservations []product.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return m.failCreate
	}

	for _, r := range reservations {
		if m.stock[r.ProductID] < r.Quantity {
			return &product.InsufficientStockError{Name: r.ProductID}
		}
	}

	if o.Number == "" {
		year := o.CreatedAt.Year()
		m.seqs[year]++
		o.Number = FormatNumber(year, m.seqs[year])
	} else {
		for _, existing := range m.orders {
			if existing.Number == o.Number {
				return ErrNumberConflict
			}
		}
	}

	for _, r := range reservations {
		m.stock[r.ProductID] -= r.Quantity
	}

	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrderRepo) GetByTransactionID(_ context.Context, transactionID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TransactionID == transactionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrderRepo) List(_ context.Context, filter ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrderRepo) AppendStatus(_ context.Context, orderID string, change StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = change.Status
	o.StatusHistory = append(o.StatusHistory, change)
	return nil
}

func (m *memOrderRepo) MarkRefunded(_ context.Context, orderID string, status PaymentStatus, change StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if o.PaymentStatus.Refunded() {
		return false, nil
	}
	o.PaymentStatus = status
	o.Status = change.Status
	o.StatusHistory = append(o.StatusHistory, change)
	return true, nil
}

func testShipping() shipping.Calculator {
	return shipping.NewCalculator(shipping.DefaultRates())
}

func testAddress() Address {
	return Address{
		FullName:   "Jean Martin",
		Street:     "12 rue des Lilas",
		City:       "Lyon",
		PostalCode: "69003",
		Country:    "FR",
	}
}

func newTestService(products *mockProductRepo, validator coupon.Validator, orders Repository) *Service {
	svc := NewService(products, validator, orders, testShipping(), ServiceConfig{
		TaxRate:            d("20"),
		DonationPercentage: d("15"),
	})
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func catalogFixture() *mockProductRepo {
	return &mockProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", SKU: "CANDLE-LAV", Name: "Lavender Soy Candle", Price: d("18.50"), Stock: 10, Active: true},
		"p2": {ID: "p2", SKU: "MUG-CERAM", Name: "Stoneware Mug", Price: d("24.00"), DiscountPrice: d("19.90"), Stock: 5, Active: true},
		"p3": {ID: "p3", SKU: "OLD-STOCK", Name: "Retired Item", Price: d("10"), Stock: 3, Active: false},
	}}
}

func TestService_PlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		ShippingAddress: testAddress(),
	})

	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestService_PlaceOrder_MissingShippingAddress(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []CartItem{{ProductID: "p1", Quantity: 1}},
	})

	require.ErrorIs(t, err, ErrMissingShippingAddress)
}

func TestService_PlaceOrder_InvalidQuantity(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 0}},
		ShippingAddress: testAddress(),
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestService_PlaceOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "missing", Quantity: 1}},
		ShippingAddress: testAddress(),
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestService_PlaceOrder_InactiveProductTreatedAsMissing(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p3", Quantity: 1}},
		ShippingAddress: testAddress(),
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
}

func TestService_PlaceOrder_InsufficientStock(t *testing.T) {
	svc := newTestService(catalogFixture(), &mockValidator{}, newMemOrderRepo(nil))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p2", Quantity: 6}},
		ShippingAddress: testAddress(),
	})

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Stoneware Mug", stockErr.Name)
}

func TestService_PlaceOrder_Success(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10, "p2": 5})
	svc := newTestService(catalogFixture(), &mockValidator{}, repo)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []CartItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		ShippingAddress: testAddress(),
		PaymentMethod:   "card",
		GuestEmail:      "jean@example.com",
		GuestName:       "Jean Martin",
	})
	require.NoError(t, err)

	// Discounted price snapshot for p2.
	require.Len(t, o.Items, 2)
	assert.True(t, d("18.50").Equal(o.Items[0].UnitPrice))
	assert.True(t, d("19.90").Equal(o.Items[1].UnitPrice))

	// subtotal 56.90, free standard shipping above 50, tax 20%.
	assert.True(t, d("56.90").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, o.ShippingCost.IsZero(), "shipping %s", o.ShippingCost)
	assert.True(t, d("11.38").Equal(o.Tax), "tax %s", o.Tax)
	assert.True(t, d("68.28").Equal(o.Total), "total %s", o.Total)

	assert.Equal(t, "ORD-2025-000001", o.Number)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	require.Len(t, o.StatusHistory, 1)

	// Billing defaults to shipping when absent.
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)

	// Stock decremented in the repo.
	assert.Equal(t, 8, repo.stock["p1"])
	assert.Equal(t, 4, repo.stock["p2"])
}

// TestService_PlaceOrder_NumberSequenceResetsEachYear verifies the first
// order of a new year restarts its sequence at 1 while the old year's
// numbers stay untouched.
func TestService_PlaceOrder_NumberSequenceResetsEachYear(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	svc := newTestService(catalogFixture(), &mockValidator{}, repo)

	place := func() *Order {
		t.Helper()
		o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
			Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
			ShippingAddress: testAddress(),
		})
		require.NoError(t, err)
		return o
	}

	svc.now = func() time.Time { return time.Date(2025, 12, 31, 23, 55, 0, 0, time.UTC) }
	assert.Equal(t, "ORD-2025-000001", place().Number)
	assert.Equal(t, "ORD-2025-000002", place().Number)

	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC) }
	assert.Equal(t, "ORD-2026-000001", place().Number)
	assert.Equal(t, "ORD-2026-000002", place().Number)
}

// TestService_PlaceOrder_PriceSnapshotSurvivesRepricing verifies a placed
// order keeps the prices it was sold at even after the catalog changes.
func TestService_PlaceOrder_PriceSnapshotSurvivesRepricing(t *testing.T) {
	catalog := catalogFixture()
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	svc := newTestService(catalog, &mockValidator{}, repo)

	placed, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 2}},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	p := catalog.products["p1"]
	p.Price = d("99.99")
	catalog.products["p1"] = p

	stored, err := repo.GetByID(context.Background(), placed.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, d("18.50").Equal(stored.Items[0].UnitPrice), "unit price %s", stored.Items[0].UnitPrice)
	assert.True(t, d("37.00").Equal(stored.Items[0].Subtotal), "item subtotal %s", stored.Items[0].Subtotal)
	assert.True(t, placed.Total.Equal(stored.Total), "total %s", stored.Total)
}

func TestService_PlaceOrder_ShippingCharged_BelowThreshold(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	svc := newTestService(catalogFixture(), &mockValidator{}, repo)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress(),
		ShippingMethod:  shipping.MethodStandard,
	})
	require.NoError(t, err)

	assert.True(t, d("5.90").Equal(o.ShippingCost), "shipping %s", o.ShippingCost)
}

func TestService_PlaceOrder_UserIdentityWinsOverGuestFields(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	svc := newTestService(catalogFixture(), &mockValidator{}, repo)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress(),
		UserID:          "user-42",
		GuestEmail:      "ignored@example.com",
		GuestName:       "Ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "user-42", o.UserID)
	assert.Empty(t, o.GuestEmail)
	assert.Empty(t, o.GuestName)
}

func TestService_PlaceOrder_CouponApplied(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	validator := &mockValidator{
		discount: &coupon.Discount{Amount: d("10"), Description: "10 off"},
	}
	svc := newTestService(catalogFixture(), validator, repo)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 3}},
		ShippingAddress: testAddress(),
		CouponCode:      "SAVE10",
	})
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", validator.gotCode)
	require.Len(t, validator.gotItems, 1)
	assert.True(t, d("18.50").Equal(validator.gotItems[0].Price))

	// subtotal 55.50, discount 10, tax 20% of 45.50 = 9.10, free shipping.
	assert.True(t, d("10").Equal(o.Discount))
	assert.True(t, d("9.10").Equal(o.Tax), "tax %s", o.Tax)
	assert.True(t, d("54.60").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, "SAVE10", o.CouponCode)
}

func TestService_PlaceOrder_CouponErrorPropagates(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	validator := &mockValidator{err: coupon.ErrInvalidCoupon}
	svc := newTestService(catalogFixture(), validator, repo)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress(),
		CouponCode:      "BOGUS",
	})

	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	assert.Empty(t, repo.orders)
}

func TestService_PlaceOrder_CommitStockFailureSurfaced(t *testing.T) {
	repo := newMemOrderRepo(map[string]int{"p1": 10})
	repo.failCreate = &product.InsufficientStockError{Name: "Lavender Soy Candle"}
	svc := newTestService(catalogFixture(), &mockValidator{}, repo)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress(),
	})

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Lavender Soy Candle", stockErr.Name)
}

// TestService_PlaceOrder_NoOversell hammers a product with more concurrent
// orders than it has stock. Exactly stock-many must succeed; the rest must
// fail with an insufficient stock error, and the stock never goes negative.
func TestService_PlaceOrder_NoOversell(t *testing.T) {
	const (
		stock   = 5
		callers = 20
	)

	catalog := &mockProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", SKU: "CANDLE-LAV", Name: "Lavender Soy Candle", Price: d("18.50"), Stock: stock, Active: true},
	}}
	repo := newMemOrderRepo(map[string]int{"p1": stock})
	svc := newTestService(catalog, &mockValidator{}, repo)

	var (
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)

	g := new(errgroup.Group)
	for range callers {
		g.Go(func() error {
			_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
				ShippingAddress: testAddress(),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				var stockErr *product.InsufficientStockError
				if !errors.As(err, &stockErr) {
					return err
				}
				outOfStock++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, callers-stock, outOfStock)
	assert.Equal(t, 0, repo.stock["p1"])
	assert.Len(t, repo.orders, stock)
}

// TestService_PlaceOrder_UniqueNumbers verifies concurrent placements all
// receive distinct order numbers.
func TestService_PlaceOrder_UniqueNumbers(t *testing.T) {
	const callers = 25

	catalog := &mockProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", SKU: "CANDLE-LAV", Name: "Lavender Soy Candle", Price: d("18.50"), Stock: 1000, Active: true},
	}}
	repo := newMemOrderRepo(map[string]int{"p1": 1000})
	svc := newTestService(catalog, &mockValidator{}, repo)

	numbers := make(chan string, callers)

	g := new(errgroup.Group)
	for range callers {
		g.Go(func() error {
			o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:           []CartItem{{ProductID: "p1", Quantity: 1}},
				ShippingAddress: testAddress(),
			})
			if err != nil {
				return err
			}
			numbers <- o.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(numbers)

	seen := make(map[string]bool)
	for n := range numbers {
		assert.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, callers)
}
