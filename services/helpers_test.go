package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/metrics"
	"storefront/models"
	"storefront/payment"
	"storefront/repository"
	"storefront/repository/memory"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "whsec_test"

type fixture struct {
	carts    *memory.CartRepository
	products *memory.ProductRepository
	orders   *memory.OrderRepository
	metrics  *metrics.Metrics
	cart     *CartService
	checkout *CheckoutService
	gateway  *fakeGateway
	verifier *payment.Verifier
}

type fixtureOption func(*CheckoutDeps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		carts:    memory.NewCartRepository(),
		products: memory.NewProductRepository(),
		orders:   memory.NewOrderRepository(),
		metrics:  metrics.New(nil),
		gateway:  &fakeGateway{keyID: "rzp_test_key"},
		verifier: payment.NewVerifier(testSecret),
	}
	f.cart = NewCartService(f.carts, f.products, nil)

	deps := CheckoutDeps{
		Carts:    f.carts,
		Products: f.products,
		Orders:   f.orders,
		Tx:       repository.NewCompensatingTransactor(),
		Verifier: f.verifier,
		Gateway:  f.gateway,
		Cart:     f.cart,
		Metrics:  f.metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.checkout = NewCheckoutService(deps)
	return f
}

func (f *fixture) product(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Description: name, Price: price, Stock: stock}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f *fixture) addToCart(t *testing.T, user primitive.ObjectID, product primitive.ObjectID, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), user, product, qty)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, id primitive.ObjectID) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	orders, err := f.orders.List(context.Background())
	require.NoError(t, err)
	return len(orders)
}

func customer() models.Principal {
	return models.Principal{UserID: primitive.NewObjectID(), Role: models.RoleCustomer}
}

func address() models.ShippingAddress {
	return models.ShippingAddress{
		Address: "12 MG Road",
		City:    "Pune",
		State:   "MH",
		Country: "India",
		PinCode: "411001",
	}
}

type fakeGateway struct {
	mu    sync.Mutex
	keyID string
	order *payment.GatewayOrder
	err   error
	got   float64
	// paid holds the amount in paise of each gateway order FetchOrder knows.
	paid map[string]int64
}

func (g *fakeGateway) setPaid(id string, minor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paid == nil {
		g.paid = map[string]int64{}
	}
	g.paid[id] = minor
}

func (g *fakeGateway) FetchOrder(ctx context.Context, id string) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	minor, ok := g.paid[id]
	if !ok {
		return nil, errors.New("gateway order not found")
	}
	return &payment.GatewayOrder{ID: id, Amount: minor, Currency: payment.Currency, Status: "paid"}, nil
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount float64) (*payment.GatewayOrder, error) {
	g.got = amount
	if g.err != nil {
		return nil, g.err
	}
	if g.order != nil {
		return g.order, nil
	}
	return &payment.GatewayOrder{ID: "order_gw_1", Amount: payment.ToMinorUnits(amount), Currency: payment.Currency, Status: "created"}, nil
}

func (g *fakeGateway) KeyID() string { return g.keyID }

type failingOrders struct {
	repository.OrderRepository
	insertErr error
}

func (f *failingOrders) Insert(ctx context.Context, order *models.Order) error {
	return f.insertErr
}

type failingCarts struct {
	repository.CartRepository
	deleteErr error
}

func (f *failingCarts) Delete(ctx context.Context, userID primitive.ObjectID) error {
	return f.deleteErr
}
