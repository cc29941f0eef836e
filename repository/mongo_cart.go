package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/database"
	"storefront/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{collection: db.Collection(database.CartCollection)}
}

func (r *MongoCartRepository) Get(ctx context.Context, userID primitive.ObjectID) (*models.Cart, error) {
	var cart models.Cart
	err := r.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &cart, nil
}

func (r *MongoCartRepository) AddItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {
	merged, err := r.incrementItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, err
	}
	if !merged {
		now := time.Now().UTC()
		item := models.CartItem{ProductID: productID, Quantity: quantity, AddedAt: now}
		_, err = r.collection.UpdateOne(ctx,
			bson.M{"userId": userID, "items.productId": bson.M{"$ne": productID}},
			bson.M{
				"$push":        bson.M{"items": item},
				"$set":         bson.M{"updatedAt": now},
				"$setOnInsert": bson.M{"createdAt": now},
			},
			options.Update().SetUpsert(true),
		)
		if mongo.IsDuplicateKeyError(err) {
			// the product was added concurrently; merge into that line instead
			if _, err = r.incrementItem(ctx, userID, productID, quantity); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, fmt.Errorf("add cart item: %w", err)
		}
	}
	return r.Get(ctx, userID)
}

func (r *MongoCartRepository) incrementItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"userId": userID, "items.productId": productID},
		bson.M{
			"$inc": bson.M{"items.$.quantity": quantity},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("merge cart item: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoCartRepository) UpdateQuantity(ctx context.Context, userID, productID primitive.ObjectID, quantity int) (*models.Cart, error) {
	return r.findAndUpdate(ctx,
		bson.M{"userId": userID, "items.productId": productID},
		bson.M{"$set": bson.M{"items.$.quantity": quantity, "updatedAt": time.Now().UTC()}},
	)
}

func (r *MongoCartRepository) RemoveItem(ctx context.Context, userID, productID primitive.ObjectID) (*models.Cart, error) {
	return r.findAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"productId": productID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
}

func (r *MongoCartRepository) Clear(ctx context.Context, userID primitive.ObjectID) error {
	_, err := r.findAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"items": []models.CartItem{}, "updatedAt": time.Now().UTC()}},
	)
	return err
}

func (r *MongoCartRepository) Delete(ctx context.Context, userID primitive.ObjectID) error {
	var cart models.Cart
	err := r.collection.FindOneAndDelete(ctx, bson.M{"userId": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("delete cart: %w", err)
	}

	RecordUndo(ctx, func(ctx context.Context) error {
		if _, err := r.collection.InsertOne(ctx, cart); err != nil {
			return fmt.Errorf("restore cart %s: %w", cart.UserID.Hex(), err)
		}
		return nil
	})
	return nil
}

func (r *MongoCartRepository) findAndUpdate(ctx context.Context, filter, update bson.M) (*models.Cart, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart models.Cart
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update cart: %w", err)
	}
	return &cart, nil
}
