package services

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmptyCartError means checkout was attempted without a cart or with no items in it.
type EmptyCartError struct{}

func (EmptyCartError) Error() string { return "Cart is empty" }

type ProductNotFoundError struct {
	ProductID primitive.ObjectID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product %s not found", e.ProductID.Hex())
}

type InsufficientStockError struct {
	ProductID primitive.ObjectID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough stock for %s. Available: %d, You want: %d", e.Name, e.Available, e.Requested)
}

type InvalidQuantityError struct {
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("Quantity must be at least 1, got %d", e.Quantity)
}

type PaymentVerificationError struct{}

func (PaymentVerificationError) Error() string { return "Payment verification failed" }

// InvalidStateError rejects a transition the order's current status does not allow.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return e.Message }

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
