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

type ProductRepository struct {
	mu       sync.RWMutex
	products map[primitive.ObjectID]*models.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[primitive.ObjectID]*models.Product),
	}
}

func (r *ProductRepository) GetByID(_ context.Context, id primitive.ObjectID) (*models.Product, error) {

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *product
	return &clone, nil
}

func (r *ProductRepository) List(_ context.Context) ([]models.Product, error) {

	r.mu.RLock()
	products := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		products = append(products, *p)
	}
	r.mu.RUnlock()

	sort.SliceStable(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

func (r *ProductRepository) Create(_ context.Context, product *models.Product) error {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	if _, exists := r.products[product.ID]; exists {
		return repository.ErrDuplicate
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	clone := *product
	r.products[product.ID] = &clone
	return nil
}

func (r *ProductRepository) Update(_ context.Context, id primitive.ObjectID, update models.ProductUpdate) (*models.Product, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Name != nil {
		product.Name = *update.Name
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.Category != nil {
		product.Category = *update.Category
	}
	if update.Price != nil {
		product.Price = *update.Price
	}
	if update.Stock != nil {
		product.Stock = *update.Stock
	}
	product.UpdatedAt = time.Now().UTC()

	clone := *product
	return &clone, nil
}

func (r *ProductRepository) Delete(_ context.Context, id primitive.ObjectID) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *ProductRepository) DecrementStock(ctx context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return repository.ErrInvalidAmount
	}

	r.mu.Lock()
	product, ok := r.products[id]
	if !ok {
		r.mu.Unlock()
		return repository.ErrNotFound
	}
	if product.Stock < amount {
		r.mu.Unlock()
		return repository.ErrInsufficientStock
	}
	product.Stock -= amount
	product.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	repository.RecordUndo(ctx, func(ctx context.Context) error {
		return r.IncrementStock(ctx, id, amount)
	})
	return nil
}

func (r *ProductRepository) IncrementStock(_ context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return repository.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return repository.ErrNotFound
	}
	product.Stock += amount
	product.UpdatedAt = time.Now().UTC()
	return nil
}
