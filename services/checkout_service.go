package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"storefront/logging"
	"storefront/metrics"
	"storefront/models"
	"storefront/payment"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "storefront/services"

type PlaceOrderInput struct {
	ShippingAddress models.ShippingAddress
	// IdempotencyKey, when set, makes a retried request return the order it already created.
	IdempotencyKey string
}

type VerifyPaymentInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	ShippingAddress  models.ShippingAddress
}

// PaymentOrder is what a client needs to open the gateway checkout.
type PaymentOrder struct {
	Order *payment.GatewayOrder `json:"order"`
	KeyID string                `json:"keyId"`
}

type CheckoutDeps struct {
	Carts    repository.CartRepository
	Products repository.ProductRepository
	Orders   repository.OrderRepository
	Tx       repository.Transactor
	Verifier *payment.Verifier
	Gateway  payment.Gateway
	Cart     *CartService
	Metrics  *metrics.Metrics

	CheckoutTimeout time.Duration
	GatewayTimeout  time.Duration
}

type CheckoutService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   repository.OrderRepository
	tx       repository.Transactor
	verifier *payment.Verifier
	gateway  payment.Gateway
	cart     *CartService
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	checkoutTimeout time.Duration
	gatewayTimeout  time.Duration
	now             func() time.Time
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	tx := d.Tx
	if tx == nil {
		tx = repository.NewCompensatingTransactor()
	}
	return &CheckoutService{
		carts:           d.Carts,
		products:        d.Products,
		orders:          d.Orders,
		tx:              tx,
		verifier:        d.Verifier,
		gateway:         d.Gateway,
		cart:            d.Cart,
		metrics:         d.Metrics,
		tracer:          otel.Tracer(tracerName),
		checkoutTimeout: d.CheckoutTimeout,
		gatewayTimeout:  d.GatewayTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder turns the customer's cart into a cash-on-delivery order.
func (s *CheckoutService) PlaceOrder(ctx context.Context, p models.Principal, in PlaceOrderInput) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.place_order",
		trace.WithAttributes(attribute.String("payment.method", string(models.PaymentCOD))))
	defer span.End()

	order, err := s.checkout(ctx, p, checkoutRequest{
		address:       in.ShippingAddress,
		method:        models.PaymentCOD,
		paymentStatus: models.PaymentPending,
		key:           strings.TrimSpace(in.IdempotencyKey),
	})
	recordSpanError(span, err)
	return order, err
}

// VerifyAndPlaceOrder checks the gateway signature and only then creates a
// paid order. The gateway payment id is the idempotency key, so a retried
// callback returns the order created by the first one.
//
// When a gateway is configured the amount of the gateway order must equal the
// cart total. Without one only the signature is checked, and the client-chosen
// amount of the gateway order is trusted.
func (s *CheckoutService) VerifyAndPlaceOrder(ctx context.Context, p models.Principal, in VerifyPaymentInput) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.verify_and_place_order",
		trace.WithAttributes(
			attribute.String("payment.method", string(models.PaymentGateway)),
			attribute.String("gateway.order_id", in.GatewayOrderID),
		))
	defer span.End()

	if s.verifier == nil || !s.verifier.Verify(in.GatewayOrderID, in.GatewayPaymentID, in.GatewaySignature) {
		s.metrics.ObserveCheckout(string(models.PaymentGateway), metrics.OutcomeRejected, 0)
		logging.FromContext(ctx).Warn("payment_verification_failed",
			zap.String("user_id", p.UserID.Hex()),
			zap.String("gateway_order_id", in.GatewayOrderID),
		)
		err := PaymentVerificationError{}
		recordSpanError(span, err)
		return nil, err
	}

	req := checkoutRequest{
		address:          in.ShippingAddress,
		method:           models.PaymentGateway,
		paymentStatus:    models.PaymentCompleted,
		gatewayOrderID:   in.GatewayOrderID,
		gatewayPaymentID: in.GatewayPaymentID,
		key:              in.GatewayPaymentID,
	}
	if s.gateway != nil {
		paid, err := s.paidAmount(ctx, in.GatewayOrderID)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		req.paidMinor = paid
	}

	order, err := s.checkout(ctx, p, req)
	recordSpanError(span, err)
	return order, err
}

// CreatePaymentOrder registers amount with the payment gateway.
func (s *CheckoutService) CreatePaymentOrder(ctx context.Context, p models.Principal, amount float64) (*PaymentOrder, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.create_payment_order")
	defer span.End()

	if math.IsNaN(amount) || payment.ToMinorUnits(amount) <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, amount)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	logging.FromContext(ctx).Info("payment_order_created",
		zap.String("user_id", p.UserID.Hex()),
		zap.String("gateway_order_id", gwOrder.ID),
		zap.Int64("amount_minor", gwOrder.Amount),
	)
	return &PaymentOrder{Order: gwOrder, KeyID: s.gateway.KeyID()}, nil
}

func (s *CheckoutService) paidAmount(ctx context.Context, gatewayOrderID string) (int64, error) {
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}
	gwOrder, err := s.gateway.FetchOrder(ctx, gatewayOrderID)
	if err != nil {
		return 0, fmt.Errorf("fetch payment order: %w", err)
	}
	return gwOrder.Amount, nil
}

type checkoutRequest struct {
	address          models.ShippingAddress
	method           models.PaymentMethod
	paymentStatus    models.PaymentStatus
	gatewayOrderID   string
	gatewayPaymentID string
	key              string
	// paidMinor is the gateway order amount in paise; zero skips the check.
	paidMinor int64
}

func (s *CheckoutService) checkout(ctx context.Context, p models.Principal, req checkoutRequest) (order *models.Order, err error) {
	start := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		if err != nil {
			outcome = classify(err)
		}
		s.metrics.ObserveCheckout(string(req.method), outcome, time.Since(start).Seconds())
	}()

	if err := validateAddress(req.address); err != nil {
		return nil, err
	}

	if s.checkoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.checkoutTimeout)
		defer cancel()
	}
	log := logging.FromContext(ctx).With(
		zap.String("user_id", p.UserID.Hex()),
		zap.String("payment_method", string(req.method)),
	)

	if existing, ok, err := s.replay(ctx, p.UserID, req.key); err != nil {
		return nil, err
	} else if ok {
		outcome = metrics.OutcomeReplay
		log.Info("checkout_replayed", zap.String("order_id", existing.ID.Hex()))
		return existing, nil
	}

	var created *models.Order
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.placeInTx(ctx, p.UserID, req)
		if err != nil {
			return err
		}
		created = o
		return nil
	})

	if err != nil && req.key != "" && lostRace(err) {
		// a concurrent request with the same key committed first and
		// consumed the cart or stock this attempt was about to use
		existing, ok, rerr := s.replay(ctx, p.UserID, req.key)
		if rerr == nil && ok {
			outcome = metrics.OutcomeReplay
			log.Info("checkout_replayed", zap.String("order_id", existing.ID.Hex()))
			return existing, nil
		}
	}
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			log.Info("checkout_insufficient_stock",
				zap.String("product_id", stockErr.ProductID.Hex()),
				zap.Int("available", stockErr.Available),
				zap.Int("requested", stockErr.Requested),
			)
		} else if classify(err) == metrics.OutcomeFailed {
			log.Error("checkout_failed", zap.Error(err))
		}
		return nil, err
	}

	if s.cart != nil {
		s.cart.Invalidate(ctx, p.UserID)
	}
	log.Info("checkout_done",
		zap.String("order_id", created.ID.Hex()),
		zap.Float64("total_amount", created.TotalAmount),
		zap.Int("items", len(created.Items)),
	)
	return created, nil
}

// placeInTx performs every store mutation of a checkout. Stock goes first,
// then the order, then the cart, so an interrupted run can only under-sell.
func (s *CheckoutService) placeInTx(ctx context.Context, userID primitive.ObjectID, req checkoutRequest) (*models.Order, error) {
	cart, err := s.carts.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && cart.IsEmpty()) {
		return nil, EmptyCartError{}
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	var total float64
	for _, line := range cart.Items {
		product, err := s.products.GetByID(ctx, line.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", line.ProductID.Hex(), err)
		}
		if product.Stock < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: line.Quantity,
			}
		}
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
		total += product.Price * float64(line.Quantity)
	}

	for _, item := range items {
		if err := s.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return nil, s.decrementError(ctx, item, err)
		}
	}

	total = math.Round(total*100) / 100
	if req.paidMinor > 0 && payment.ToMinorUnits(total) != req.paidMinor {
		logging.FromContext(ctx).Warn("payment_amount_mismatch",
			zap.String("user_id", userID.Hex()),
			zap.String("gateway_order_id", req.gatewayOrderID),
			zap.Int64("paid_minor", req.paidMinor),
			zap.Int64("due_minor", payment.ToMinorUnits(total)),
		)
		return nil, PaymentVerificationError{}
	}

	now := s.now()
	order := &models.Order{
		ID:               primitive.NewObjectID(),
		UserID:           userID,
		Items:            items,
		TotalAmount:      total,
		ShippingAddress:  req.address,
		OrderStatus:      models.OrderProcessing,
		PaymentStatus:    req.paymentStatus,
		PaymentMethod:    req.method,
		GatewayOrderID:   req.gatewayOrderID,
		GatewayPaymentID: req.gatewayPaymentID,
		IdempotencyKey:   req.key,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := s.carts.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// another checkout consumed this cart first
			return nil, EmptyCartError{}
		}
		return nil, fmt.Errorf("delete cart: %w", err)
	}
	return order, nil
}

func (s *CheckoutService) decrementError(ctx context.Context, item models.OrderItem, err error) error {
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		s.metrics.StockConflict()
		available := 0
		if p, gerr := s.products.GetByID(ctx, item.ProductID); gerr == nil {
			available = p.Stock
		}
		return &InsufficientStockError{
			ProductID: item.ProductID,
			Name:      item.Name,
			Available: available,
			Requested: item.Quantity,
		}
	case errors.Is(err, repository.ErrNotFound):
		return &ProductNotFoundError{ProductID: item.ProductID}
	default:
		return fmt.Errorf("decrement stock %s: %w", item.ProductID.Hex(), err)
	}
}

func (s *CheckoutService) replay(ctx context.Context, userID primitive.ObjectID, key string) (*models.Order, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	order, err := s.orders.FindByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return order, true, nil
}

// lostRace reports whether err is what a checkout sees when another request
// for the same order committed while it was running.
func lostRace(err error) bool {
	var (
		empty    EmptyCartError
		notFound *ProductNotFoundError
		stock    *InsufficientStockError
	)
	return errors.Is(err, repository.ErrDuplicate) || errors.As(err, &empty) ||
		errors.As(err, &notFound) || errors.As(err, &stock)
}

func validateAddress(a models.ShippingAddress) error {
	fields := []struct {
		name  string
		value string
	}{
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"country", a.Country},
		{"pinCode", a.PinCode},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: "shippingAddress." + f.name, Message: "is required"}
		}
	}
	return nil
}

// classify maps a checkout error to a metrics outcome.
func classify(err error) string {
	if IsClientError(err) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeFailed
}

// IsClientError reports whether err is caused by the request rather than by
// the service or its stores.
func IsClientError(err error) bool {
	var (
		empty    EmptyCartError
		notFound *ProductNotFoundError
		stock    *InsufficientStockError
		qty      *InvalidQuantityError
		pay      PaymentVerificationError
		state    *InvalidStateError
		missing  *NotFoundError
		invalid  *ValidationError
	)
	return errors.As(err, &empty) || errors.As(err, &notFound) || errors.As(err, &stock) ||
		errors.As(err, &qty) || errors.As(err, &pay) || errors.As(err, &state) ||
		errors.As(err, &missing) || errors.As(err, &invalid)
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
