package repository

import (
	"context"
	"errors"

	"storefront/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound          = errors.New("repository: not found")
	ErrInsufficientStock = errors.New("repository: insufficient stock")
	ErrDuplicate         = errors.New("repository: duplicate key")
	ErrInvalidAmount     = errors.New("repository: amount must be greater than zero")
)

type CartRepository interface {
	Get(ctx context.Context, userID primitive.ObjectID) (*models.Cart, error)
	// AddItem creates the cart on first use and merges quantities for a product already in it.
	AddItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error)
	UpdateQuantity(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID primitive.ObjectID) (*models.Cart, error)
	Clear(ctx context.Context, userID primitive.ObjectID) error
	Delete(ctx context.Context, userID primitive.ObjectID) error
}

type ProductRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, id primitive.ObjectID, update models.ProductUpdate) (*models.Product, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	// DecrementStock lowers stock only if at least amount units remain.
	DecrementStock(ctx context.Context, id primitive.ObjectID, amount int) error
	IncrementStock(ctx context.Context, id primitive.ObjectID, amount int) error
}

type OrderRepository interface {
	Insert(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID primitive.ObjectID, key string) (*models.Order, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	// UpdateStatus applies update only while the order still matches cond.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, cond StatusCondition, update StatusUpdate) (*models.Order, error)
}

// StatusCondition restricts a status update. Zero fields match anything.
type StatusCondition struct {
	UserID      primitive.ObjectID
	OrderStatus models.OrderStatus
}

// StatusUpdate holds the fields to set. Empty fields are left unchanged.
type StatusUpdate struct {
	OrderStatus   models.OrderStatus
	PaymentStatus models.PaymentStatus
}

// Transactor runs fn so that either all of its store mutations apply or none do.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
