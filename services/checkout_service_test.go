package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/metrics"
	"storefront/models"
	"storefront/repository"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestPlaceOrder_TotalAndPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	a := f.product(t, "A", 100, 5)
	b := f.product(t, "B", 50, 1)
	f.addToCart(t, user.UserID, a.ID, 2)
	f.addToCart(t, user.UserID, b.ID, 1)

	order, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
	require.NoError(t, err)

	assert.Equal(t, 250.0, order.TotalAmount)
	assert.Equal(t, models.OrderProcessing, order.OrderStatus)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)
	assert.Equal(t, models.PaymentCOD, order.PaymentMethod)
	assert.Equal(t, user.UserID, order.UserID)
	require.Len(t, order.Items, 2)

	assert.Equal(t, 3, f.stock(t, a.ID))
	assert.Equal(t, 0, f.stock(t, b.ID))

	_, err = f.carts.Get(ctx, user.UserID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	price := 999.0
	_, err = f.products.Update(ctx, a.ID, models.ProductUpdate{Price: &price})
	require.NoError(t, err)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, stored.TotalAmount)
	assert.Equal(t, 100.0, stored.Items[0].Price)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutTotal.WithLabelValues("cod", metrics.OutcomeSuccess)))
}

func TestPlaceOrder_TotalRoundedToCents(t *testing.T) {
	f := newFixture(t)
	user := customer()
	p := f.product(t, "pen", 0.1, 10)
	f.addToCart(t, user.UserID, p.ID, 3)

	order, err := f.checkout.PlaceOrder(context.Background(), user, PlaceOrderInput{ShippingAddress: address()})
	require.NoError(t, err)
	assert.Equal(t, 0.3, order.TotalAmount)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	ctx := context.Background()

	t.Run("no cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.checkout.PlaceOrder(ctx, customer(), PlaceOrderInput{ShippingAddress: address()})
		assert.ErrorAs(t, err, &EmptyCartError{})
		assert.Equal(t, 0, f.orderCount(t))
	})

	t.Run("cleared cart", func(t *testing.T) {
		f := newFixture(t)
		user := customer()
		p := f.product(t, "A", 10, 3)
		f.addToCart(t, user.UserID, p.ID, 1)
		require.NoError(t, f.carts.Clear(ctx, user.UserID))

		_, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
		assert.ErrorAs(t, err, &EmptyCartError{})
		assert.Equal(t, 3, f.stock(t, p.ID))
		assert.Equal(t, 0, f.orderCount(t))
	})
}

func TestPlaceOrder_InsufficientStockLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	a := f.product(t, "A", 100, 5)
	b := f.product(t, "B", 50, 1)
	f.addToCart(t, user.UserID, a.ID, 2)
	f.addToCart(t, user.UserID, b.ID, 2)

	_, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "B", stockErr.Name)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, "Not enough stock for B. Available: 1, You want: 2", err.Error())

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 1, f.stock(t, b.ID))
	assert.Equal(t, 0, f.orderCount(t))

	cart, err := f.carts.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestPlaceOrder_ProductRemovedFromCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	a := f.product(t, "A", 10, 5)
	f.addToCart(t, user.UserID, a.ID, 1)
	require.NoError(t, f.products.Delete(ctx, a.ID))

	_, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, a.ID, notFound.ProductID)
}

func TestPlaceOrder_ShippingAddressRequired(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*models.ShippingAddress)
		field string
	}{
		{name: "address", edit: func(a *models.ShippingAddress) { a.Address = "" }, field: "shippingAddress.address"},
		{name: "city blank", edit: func(a *models.ShippingAddress) { a.City = "   " }, field: "shippingAddress.city"},
		{name: "state", edit: func(a *models.ShippingAddress) { a.State = "" }, field: "shippingAddress.state"},
		{name: "country", edit: func(a *models.ShippingAddress) { a.Country = "" }, field: "shippingAddress.country"},
		{name: "pin code", edit: func(a *models.ShippingAddress) { a.PinCode = "\t" }, field: "shippingAddress.pinCode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			user := customer()
			p := f.product(t, "A", 10, 5)
			f.addToCart(t, user.UserID, p.ID, 1)

			addr := address()
			tt.edit(&addr)
			_, err := f.checkout.PlaceOrder(context.Background(), user, PlaceOrderInput{ShippingAddress: addr})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 5, f.stock(t, p.ID))
		})
	}
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	p := f.product(t, "A", 10, 5)
	f.addToCart(t, user.UserID, p.ID, 2)

	in := PlaceOrderInput{ShippingAddress: address(), IdempotencyKey: "req-1"}
	first, err := f.checkout.PlaceOrder(ctx, user, in)
	require.NoError(t, err)

	// a new cart does not change what a retry returns
	f.addToCart(t, user.UserID, p.ID, 1)
	second, err := f.checkout.PlaceOrder(ctx, user, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, f.stock(t, p.ID))
	assert.Equal(t, 1, f.orderCount(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutTotal.WithLabelValues("cod", metrics.OutcomeReplay)))
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "last", 10, 1)
	alice, bob := customer(), customer()
	f.addToCart(t, alice.UserID, p.ID, 1)
	f.addToCart(t, bob.UserID, p.ID, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []models.Principal{alice, bob} {
		wg.Add(1)
		go func(i int, user models.Principal) {
			defer wg.Done()
			_, errs[i] = f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
		}(i, user)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *InsufficientStockError
		assert.ErrorAs(t, err, &stockErr)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Equal(t, 1, f.orderCount(t))
}

func TestPlaceOrder_ConcurrentManyBuyers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "popular", 10, 7)

	users := make([]models.Principal, 20)
	for i := range users {
		users[i] = customer()
		f.addToCart(t, users[i].UserID, p.ID, 1)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, user := range users {
		wg.Add(1)
		go func(user models.Principal) {
			defer wg.Done()
			if _, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Equal(t, 7, f.orderCount(t))
}

func TestPlaceOrder_RollsBackWhenOrderInsertFails(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("write failed")
	f := newFixture(t, func(d *CheckoutDeps) {
		d.Orders = &failingOrders{OrderRepository: d.Orders, insertErr: boom}
	})
	user := customer()
	a := f.product(t, "A", 10, 4)
	b := f.product(t, "B", 20, 4)
	f.addToCart(t, user.UserID, a.ID, 1)
	f.addToCart(t, user.UserID, b.ID, 3)

	_, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 4, f.stock(t, a.ID))
	assert.Equal(t, 4, f.stock(t, b.ID))
	cart, err := f.carts.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutTotal.WithLabelValues("cod", metrics.OutcomeFailed)))
}

func TestPlaceOrder_RollsBackWhenCartDeleteFails(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("delete failed")
	f := newFixture(t, func(d *CheckoutDeps) {
		d.Carts = &failingCarts{CartRepository: d.Carts, deleteErr: boom}
	})
	user := customer()
	p := f.product(t, "A", 10, 4)
	f.addToCart(t, user.UserID, p.ID, 2)

	_, err := f.checkout.PlaceOrder(ctx, user, PlaceOrderInput{ShippingAddress: address()})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 4, f.stock(t, p.ID))
	assert.Equal(t, 0, f.orderCount(t))
}

func TestVerifyAndPlaceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	p := f.product(t, "A", 120, 3)
	f.addToCart(t, user.UserID, p.ID, 2)
	f.gateway.setPaid("order_1", 24000)

	in := VerifyPaymentInput{
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: f.verifier.Sign("order_1", "pay_1"),
		ShippingAddress:  address(),
	}
	order, err := f.checkout.VerifyAndPlaceOrder(ctx, user, in)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentCompleted, order.PaymentStatus)
	assert.Equal(t, models.PaymentGateway, order.PaymentMethod)
	assert.Equal(t, models.OrderProcessing, order.OrderStatus)
	assert.Equal(t, "order_1", order.GatewayOrderID)
	assert.Equal(t, "pay_1", order.GatewayPaymentID)
	assert.Equal(t, 240.0, order.TotalAmount)
	assert.Equal(t, 1, f.stock(t, p.ID))

	t.Run("retried callback returns the same order", func(t *testing.T) {
		again, err := f.checkout.VerifyAndPlaceOrder(ctx, user, in)
		require.NoError(t, err)
		assert.Equal(t, order.ID, again.ID)
		assert.Equal(t, 1, f.stock(t, p.ID))
		assert.Equal(t, 1, f.orderCount(t))
	})
}

func TestVerifyAndPlaceOrder_TamperedSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	p := f.product(t, "A", 120, 3)
	f.addToCart(t, user.UserID, p.ID, 2)

	tests := []struct {
		name string
		in   VerifyPaymentInput
	}{
		{name: "wrong signature", in: VerifyPaymentInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", GatewaySignature: "deadbeef"}},
		{name: "signature for other payment", in: VerifyPaymentInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_2", GatewaySignature: f.verifier.Sign("order_1", "pay_1")}},
		{name: "missing ids", in: VerifyPaymentInput{GatewaySignature: f.verifier.Sign("", "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.ShippingAddress = address()
			_, err := f.checkout.VerifyAndPlaceOrder(ctx, user, tt.in)
			assert.ErrorAs(t, err, &PaymentVerificationError{})
			assert.Equal(t, "Payment verification failed", err.Error())

			assert.Equal(t, 3, f.stock(t, p.ID))
			assert.Equal(t, 0, f.orderCount(t))
			cart, err := f.carts.Get(ctx, user.UserID)
			require.NoError(t, err)
			assert.Len(t, cart.Items, 1)
		})
	}
}

type racyOrders struct {
	repository.OrderRepository
	mu     sync.Mutex
	misses int
}

// FindByIdempotencyKey misses once, as if a concurrent request had not committed yet.
func (r *racyOrders) FindByIdempotencyKey(ctx context.Context, userID primitive.ObjectID, key string) (*models.Order, error) {
	r.mu.Lock()
	miss := r.misses > 0
	if miss {
		r.misses--
	}
	r.mu.Unlock()
	if miss {
		return nil, repository.ErrNotFound
	}
	return r.OrderRepository.FindByIdempotencyKey(ctx, userID, key)
}

func TestVerifyAndPlaceOrder_DuplicateKeyReplaysCommittedOrder(t *testing.T) {
	ctx := context.Background()
	orders := &racyOrders{}
	f := newFixture(t, func(d *CheckoutDeps) {
		orders.OrderRepository = d.Orders
		d.Orders = orders
	})
	user := customer()
	p := f.product(t, "A", 10, 5)

	existing := &models.Order{UserID: user.UserID, IdempotencyKey: "pay_1", OrderStatus: models.OrderProcessing, CreatedAt: time.Now()}
	require.NoError(t, f.orders.Insert(ctx, existing))
	f.addToCart(t, user.UserID, p.ID, 1)
	f.gateway.setPaid("order_1", 1000)

	orders.misses = 1
	got, err := f.checkout.VerifyAndPlaceOrder(ctx, user, VerifyPaymentInput{
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: f.verifier.Sign("order_1", "pay_1"),
		ShippingAddress:  address(),
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)

	// the losing attempt was rolled back
	assert.Equal(t, 5, f.stock(t, p.ID))
	_, err = f.carts.Get(ctx, user.UserID)
	assert.NoError(t, err)
}

// interleavedOrders runs between once, right after the first idempotency
// lookup, so a competing request can commit before the caller continues.
type interleavedOrders struct {
	repository.OrderRepository
	fired   atomic.Bool
	between func()
}

func (o *interleavedOrders) FindByIdempotencyKey(ctx context.Context, userID primitive.ObjectID, key string) (*models.Order, error) {
	order, err := o.OrderRepository.FindByIdempotencyKey(ctx, userID, key)
	if o.between != nil && o.fired.CompareAndSwap(false, true) {
		o.between()
	}
	return order, err
}

func TestVerifyAndPlaceOrder_RetryAfterFirstCallbackCommitted(t *testing.T) {
	ctx := context.Background()
	orders := &interleavedOrders{}
	f := newFixture(t, func(d *CheckoutDeps) {
		orders.OrderRepository = d.Orders
		d.Orders = orders
	})
	user := customer()
	p := f.product(t, "A", 50, 1)
	f.addToCart(t, user.UserID, p.ID, 1)
	f.gateway.setPaid("order_1", 5000)

	in := VerifyPaymentInput{
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: f.verifier.Sign("order_1", "pay_1"),
		ShippingAddress:  address(),
	}

	var first *models.Order
	var firstErr error
	orders.between = func() {
		first, firstErr = f.checkout.VerifyAndPlaceOrder(ctx, user, in)
	}

	retry, err := f.checkout.VerifyAndPlaceOrder(ctx, user, in)
	require.NoError(t, firstErr)
	require.NotNil(t, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Equal(t, 1, f.orderCount(t))
}

func TestVerifyAndPlaceOrder_PaidAmountMustMatchCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := customer()
	p := f.product(t, "A", 120, 3)
	f.addToCart(t, user.UserID, p.ID, 2)

	tests := []struct {
		name      string
		orderID   string
		paid      int64
		wantPayer bool
	}{
		{name: "underpaid", orderID: "order_low", paid: 1, wantPayer: true},
		{name: "overpaid", orderID: "order_high", paid: 24001, wantPayer: true},
		{name: "unknown gateway order", orderID: "order_missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.paid > 0 {
				f.gateway.setPaid(tt.orderID, tt.paid)
			}
			_, err := f.checkout.VerifyAndPlaceOrder(ctx, user, VerifyPaymentInput{
				GatewayOrderID:   tt.orderID,
				GatewayPaymentID: "pay_" + tt.orderID,
				GatewaySignature: f.verifier.Sign(tt.orderID, "pay_"+tt.orderID),
				ShippingAddress:  address(),
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantPayer, errors.As(err, &PaymentVerificationError{}))

			assert.Equal(t, 3, f.stock(t, p.ID))
			assert.Equal(t, 0, f.orderCount(t))
			cart, err := f.carts.Get(ctx, user.UserID)
			require.NoError(t, err)
			assert.Len(t, cart.Items, 1)
		})
	}
}

func TestPlaceOrder_Timeout(t *testing.T) {
	f := newFixture(t, func(d *CheckoutDeps) {
		d.CheckoutTimeout = time.Nanosecond
		d.Tx = slowTransactor{}
	})
	user := customer()
	p := f.product(t, "A", 10, 5)
	f.addToCart(t, user.UserID, p.ID, 1)

	_, err := f.checkout.PlaceOrder(context.Background(), user, PlaceOrderInput{ShippingAddress: address()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, f.stock(t, p.ID))
}

type slowTransactor struct{}

func (slowTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCreatePaymentOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		f := newFixture(t)
		got, err := f.checkout.CreatePaymentOrder(ctx, customer(), 250.5)
		require.NoError(t, err)
		assert.Equal(t, "rzp_test_key", got.KeyID)
		assert.Equal(t, int64(25050), got.Order.Amount)
		assert.Equal(t, 250.5, f.gateway.got)
	})

	t.Run("invalid amount", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []float64{0, -10, 0.001} {
			_, err := f.checkout.CreatePaymentOrder(ctx, customer(), amount)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "amount", verr.Field)
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.err = errors.New("gateway down")
		_, err := f.checkout.CreatePaymentOrder(ctx, customer(), 10)
		require.Error(t, err)
		assert.False(t, IsClientError(err))
	})
}
