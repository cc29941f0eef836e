package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/cache"
	"storefront/logging"
	"storefront/models"
	"storefront/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	cache    cache.CartCache
	sfg      singleflight.Group
}

func NewCartService(carts repository.CartRepository, products repository.ProductRepository, c cache.CartCache) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &CartService{carts: carts, products: products, cache: c}
}

// GetCart returns the customer's cart, or an empty one if none exists yet.
func (s *CartService) GetCart(ctx context.Context, userID primitive.ObjectID) (*models.Cart, error) {
	v, err, _ := s.sfg.Do(userID.Hex(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logging.FromContext(ctx).Warn("cart_cache_get_failed", zap.Error(err))
		}

		// read before the store so a concurrent Invalidate makes the Set below fail
		version, verr := s.cache.Version(ctx, userID)
		if verr != nil {
			logging.FromContext(ctx).Warn("cart_cache_version_failed", zap.Error(verr))
		}

		cart, err = s.carts.Get(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			now := time.Now().UTC()
			return &models.Cart{UserID: userID, Items: []models.CartItem{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if verr == nil {
			err := s.cache.Set(ctx, userID, cart, version)
			if err != nil && !errors.Is(err, cache.ErrStale) {
				logging.FromContext(ctx).Warn("cart_cache_set_failed", zap.Error(err))
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the items slice
	return v.(*models.Cart).Clone(), nil
}

func (s *CartService) AddItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: quantity}
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}

	cart, err := s.carts.AddItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	s.Invalidate(ctx, userID)
	return cart, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: quantity}
	}

	cart, err := s.carts.UpdateQuantity(ctx, userID, productID, quantity)
	if errors.Is(err, repository.ErrNotFound) {
		if _, getErr := s.carts.Get(ctx, userID); errors.Is(getErr, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "Cart"}
		}
		return nil, &NotFoundError{Resource: "Item in cart"}
	}
	if err != nil {
		return nil, fmt.Errorf("update cart item: %w", err)
	}
	s.Invalidate(ctx, userID)
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID primitive.ObjectID) (*models.Cart, error) {
	cart, err := s.carts.RemoveItem(ctx, userID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "Cart"}
	}
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}
	s.Invalidate(ctx, userID)
	return cart, nil
}

func (s *CartService) Clear(ctx context.Context, userID primitive.ObjectID) error {
	err := s.carts.Clear(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "Cart"}
	}
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.Invalidate(ctx, userID)
	return nil
}

// Invalidate drops the cached copy of the customer's cart. Failures are
// logged only; the entry expires on its own.
func (s *CartService) Invalidate(ctx context.Context, userID primitive.ObjectID) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		logging.FromContext(ctx).Warn("cart_cache_delete_failed",
			zap.String("user_id", userID.Hex()),
			zap.Error(err),
		)
	}
}
