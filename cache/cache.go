package cache

import (
	"context"
	"errors"

	"storefront/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrCacheMiss = errors.New("cache: miss")
	// ErrStale is returned by Set when the entry was deleted after its
	// version was read.
	ErrStale = errors.New("cache: entry invalidated since read")
)

// CartCache holds read copies of carts. The store stays authoritative;
// every cart write deletes the entry.
//
// Readers call Version before loading the cart from the store and pass it to
// Set, so a copy loaded before a concurrent Delete is never written back.
type CartCache interface {
	Get(ctx context.Context, userID primitive.ObjectID) (*models.Cart, error)
	Version(ctx context.Context, userID primitive.ObjectID) (int64, error)
	Set(ctx context.Context, userID primitive.ObjectID, cart *models.Cart, version int64) error
	Delete(ctx context.Context, userID primitive.ObjectID) error
}

// NopCache always misses. Used when no Redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, primitive.ObjectID) (*models.Cart, error) {
	return nil, ErrCacheMiss
}

func (NopCache) Version(context.Context, primitive.ObjectID) (int64, error) { return 0, nil }

func (NopCache) Set(context.Context, primitive.ObjectID, *models.Cart, int64) error { return nil }

func (NopCache) Delete(context.Context, primitive.ObjectID) error { return nil }
