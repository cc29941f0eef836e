package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/models"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type idempotencyKey struct {
	userID primitive.ObjectID
	key    string
}

type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[primitive.ObjectID]*models.Order
	idempotency map[idempotencyKey]primitive.ObjectID
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:      make(map[primitive.ObjectID]*models.Order),
		idempotency: make(map[idempotencyKey]primitive.ObjectID),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if _, exists := r.orders[order.ID]; exists {
		r.mu.Unlock()
		return repository.ErrDuplicate
	}
	key := idempotencyKey{userID: order.UserID, key: order.IdempotencyKey}
	if order.IdempotencyKey != "" {
		if _, exists := r.idempotency[key]; exists {
			r.mu.Unlock()
			return repository.ErrDuplicate
		}
		r.idempotency[key] = order.ID
	}
	r.orders[order.ID] = order.Clone()
	r.mu.Unlock()

	id := order.ID
	repository.RecordUndo(ctx, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.orders, id)
		if key.key != "" {
			delete(r.idempotency, key)
		}
		return nil
	})
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id primitive.ObjectID) (*models.Order, error) {

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, userID primitive.ObjectID, key string) (*models.Order, error) {
	if key == "" {
		return nil, repository.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyKey{userID: userID, key: key}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.orders[id].Clone(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.list(func(*models.Order) bool { return true }), nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, id primitive.ObjectID, cond repository.StatusCondition, update repository.StatusUpdate) (*models.Order, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !cond.UserID.IsZero() && order.UserID != cond.UserID {
		return nil, repository.ErrNotFound
	}
	if cond.OrderStatus != "" && order.OrderStatus != cond.OrderStatus {
		return nil, repository.ErrNotFound
	}

	if update.OrderStatus != "" {
		order.OrderStatus = update.OrderStatus
	}
	if update.PaymentStatus != "" {
		order.PaymentStatus = update.PaymentStatus
	}
	order.UpdatedAt = time.Now().UTC()
	return order.Clone(), nil
}

func (r *OrderRepository) list(match func(*models.Order) bool) []models.Order {
	r.mu.RLock()
	orders := []models.Order{}
	for _, o := range r.orders {
		if match(o) {
			orders = append(orders, *o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID.Hex() > orders[j].ID.Hex()
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders
}
