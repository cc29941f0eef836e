package services

import (
	"context"
	"errors"
	"fmt"

	"storefront/logging"
	"storefront/models"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// validTransitions lists the order statuses an administrator may move to.
var validTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderProcessing: {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:    {models.OrderDelivered},
	models.OrderDelivered:  {},
	models.OrderCancelled:  {},
}

// impliedPayment is the payment status an order status forces.
var impliedPayment = map[models.OrderStatus]models.PaymentStatus{
	models.OrderDelivered: models.PaymentCompleted,
	models.OrderCancelled: models.PaymentFailed,
}

type OrderService struct {
	orders repository.OrderRepository
}

func NewOrderService(orders repository.OrderRepository) *OrderService {
	return &OrderService{orders: orders}
}

func (s *OrderService) ListForCustomer(ctx context.Context, customerID primitive.ObjectID) ([]models.Order, error) {
	orders, err := s.orders.ListByUser(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) Get(ctx context.Context, orderID primitive.ObjectID) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "Order"}
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// CancelOrder cancels one of the customer's own orders while it is still
// processing. Stock is not returned to inventory.
func (s *OrderService) CancelOrder(ctx context.Context, customerID, orderID primitive.ObjectID) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && order.UserID != customerID) {
		return nil, &NotFoundError{Resource: "Order"}
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.OrderStatus != models.OrderProcessing {
		return nil, errCancelNotAllowed
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID,
		repository.StatusCondition{UserID: customerID, OrderStatus: models.OrderProcessing},
		repository.StatusUpdate{OrderStatus: models.OrderCancelled, PaymentStatus: models.PaymentFailed},
	)
	if errors.Is(err, repository.ErrNotFound) {
		// status moved on between the read and the write
		return nil, errCancelNotAllowed
	}
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	logging.FromContext(ctx).Info("order_cancelled",
		zap.String("order_id", orderID.Hex()),
		zap.String("user_id", customerID.Hex()),
	)
	return updated, nil
}

var errCancelNotAllowed = &InvalidStateError{Message: "Order can only be cancelled if it's in processing state"}

// UpdateOrderStatus moves an order along its lifecycle and sets the payment
// status the new order status implies in the same write.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID primitive.ObjectID, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "orderStatus", Message: fmt.Sprintf("invalid value %q", status)}
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	current := order.OrderStatus
	if !canTransition(current, status) {
		return nil, &InvalidStateError{Message: fmt.Sprintf("Cannot change status from %s to %s", current, status)}
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID,
		repository.StatusCondition{OrderStatus: current},
		repository.StatusUpdate{OrderStatus: status, PaymentStatus: impliedPayment[status]},
	)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &InvalidStateError{Message: "Order status changed concurrently, reload and retry"}
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	logging.FromContext(ctx).Info("order_status_updated",
		zap.String("order_id", orderID.Hex()),
		zap.String("from", string(current)),
		zap.String("to", string(status)),
	)
	return updated, nil
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, orderID primitive.ObjectID, status models.PaymentStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "paymentStatus", Message: fmt.Sprintf("invalid value %q", status)}
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID,
		repository.StatusCondition{},
		repository.StatusUpdate{PaymentStatus: status},
	)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "Order"}
	}
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	logging.FromContext(ctx).Info("payment_status_updated",
		zap.String("order_id", orderID.Hex()),
		zap.String("to", string(status)),
	)
	return updated, nil
}

func canTransition(from, to models.OrderStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
