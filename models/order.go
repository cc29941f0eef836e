package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentGateway PaymentMethod = "gateway"
)

type Order struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           primitive.ObjectID `bson:"userId" json:"userId"`
	Items            []OrderItem        `bson:"items" json:"items"`
	TotalAmount      float64            `bson:"totalAmount" json:"totalAmount"`
	ShippingAddress  ShippingAddress    `bson:"shippingAddress" json:"shippingAddress"`
	OrderStatus      OrderStatus        `bson:"orderStatus" json:"orderStatus"`
	PaymentStatus    PaymentStatus      `bson:"paymentStatus" json:"paymentStatus"`
	PaymentMethod    PaymentMethod      `bson:"paymentMethod" json:"paymentMethod"`
	GatewayOrderID   string             `bson:"gatewayOrderId,omitempty" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string             `bson:"gatewayPaymentId,omitempty" json:"gatewayPaymentId,omitempty"`
	IdempotencyKey   string             `bson:"idempotencyKey,omitempty" json:"-"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// OrderItem is a line of the order as it was priced at checkout.
type OrderItem struct {
	ProductID primitive.ObjectID `bson:"productId" json:"productId"`
	Name      string             `bson:"name" json:"name"`
	Quantity  int                `bson:"quantity" json:"quantity"`
	Price     float64            `bson:"price" json:"price"`
}

type ShippingAddress struct {
	Address string `bson:"address" json:"address" binding:"required,notblank"`
	City    string `bson:"city" json:"city" binding:"required,notblank"`
	State   string `bson:"state" json:"state" binding:"required,notblank"`
	Country string `bson:"country" json:"country" binding:"required,notblank"`
	PinCode string `bson:"pinCode" json:"pinCode" binding:"required,notblank"`
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]OrderItem(nil), o.Items...)
	return &clone
}
