package memory

import (
	"context"
	"sync"
	"time"

	"storefront/models"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[primitive.ObjectID]*models.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[primitive.ObjectID]*models.Cart),
	}
}

func (r *CartRepository) Get(_ context.Context, userID primitive.ObjectID) (*models.Cart, error) {

	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cart.Clone(), nil
}

func (r *CartRepository) AddItem(_ context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		cart = &models.Cart{
			ID:        primitive.NewObjectID(),
			UserID:    userID,
			Items:     []models.CartItem{},
			CreatedAt: now,
		}
		r.carts[userID] = cart
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, models.CartItem{ProductID: productID, Quantity: quantity, AddedAt: now})
	}
	cart.UpdatedAt = now
	return cart.Clone(), nil
}

func (r *CartRepository) UpdateQuantity(_ context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity = quantity
			cart.UpdatedAt = time.Now().UTC()
			return cart.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *CartRepository) RemoveItem(_ context.Context, userID, productID primitive.ObjectID) (*models.Cart, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	items := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			items = append(items, item)
		}
	}
	cart.Items = items
	cart.UpdatedAt = time.Now().UTC()
	return cart.Clone(), nil
}

func (r *CartRepository) Clear(_ context.Context, userID primitive.ObjectID) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return repository.ErrNotFound
	}
	cart.Items = []models.CartItem{}
	cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, userID primitive.ObjectID) error {
	r.mu.Lock()
	cart, ok := r.carts[userID]
	if ok {
		delete(r.carts, userID)
	}
	r.mu.Unlock()

	if !ok {
		return repository.ErrNotFound
	}

	repository.RecordUndo(ctx, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.carts[userID] = cart
		return nil
	})
	return nil
}
