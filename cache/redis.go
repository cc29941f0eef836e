package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"storefront/models"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultTTL = 15 * time.Minute
	// generations only need to outlive the reads racing a delete
	generationTTL = 24 * time.Hour
)

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

func (r *RedisCache) Get(ctx context.Context, userID primitive.ObjectID) (*models.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}

// Version returns the generation of the user's entry, zero if it was never
// deleted.
func (r *RedisCache) Version(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	v, err := r.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return v, nil
}

// Set stores cart if the generation still equals version. Otherwise the
// entry was deleted after the caller loaded cart and ErrStale is returned.
func (r *RedisCache) Set(ctx context.Context, userID primitive.ObjectID, cart *models.Cart, version int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	// spread expiry so entries written together do not expire together
	ttl := r.baseTTL + time.Duration(rand.Int64N(int64(r.baseTTL/4)+1))
	key, gen := cacheKey(userID), generationKey(userID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gen).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, gen)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("redis set: %w", err)
	}
}

// Delete drops the entry and advances its generation.
func (r *RedisCache) Delete(ctx context.Context, userID primitive.ObjectID) error {
	gen := generationKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, generationTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func cacheKey(userID primitive.ObjectID) string {
	return "cart:" + userID.Hex()
}

func generationKey(userID primitive.ObjectID) string {
	return "cart:" + userID.Hex() + ":gen"
}
