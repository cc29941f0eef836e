package services

import (
	"context"
	"errors"
	"fmt"

	"storefront/models"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProductService is the catalog administration surface. Stock changes made
// here bypass checkout and are not reconciled against placed orders.
type ProductService struct {
	products repository.ProductRepository
}

func NewProductService(products repository.ProductRepository) *ProductService {
	return &ProductService{products: products}
}

func (s *ProductService) List(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *ProductService) Create(ctx context.Context, product *models.Product) error {
	if product.Price < 0 || product.Stock < 0 {
		return &ValidationError{Message: "price and stock must not be negative"}
	}
	product.ID = primitive.NilObjectID
	if err := s.products.Create(ctx, product); err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *ProductService) Update(ctx context.Context, id primitive.ObjectID, update models.ProductUpdate) (*models.Product, error) {
	if (update.Price != nil && *update.Price < 0) || (update.Stock != nil && *update.Stock < 0) {
		return nil, &ValidationError{Message: "price and stock must not be negative"}
	}
	product, err := s.products.Update(ctx, id, update)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "Product"}
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

func (s *ProductService) Delete(ctx context.Context, id primitive.ObjectID) error {
	err := s.products.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "Product"}
	}
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}
