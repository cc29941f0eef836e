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

type MongoProductRepository struct {
	collection *mongo.Collection
}

func NewMongoProductRepository(db *mongo.Database) *MongoProductRepository {
	return &MongoProductRepository{collection: db.Collection(database.ProductCollection)}
}

func (r *MongoProductRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	var product models.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

func (r *MongoProductRepository) List(ctx context.Context) ([]models.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

func (r *MongoProductRepository) Create(ctx context.Context, product *models.Product) error {
	now := time.Now().UTC()
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, product); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *MongoProductRepository) Update(ctx context.Context, id primitive.ObjectID, update models.ProductUpdate) (*models.Product, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Category != nil {
		set["category"] = *update.Category
	}
	if update.Price != nil {
		set["price"] = *update.Price
	}
	if update.Stock != nil {
		set["stock"] = *update.Stock
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var product models.Product
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	return &product, nil
}

func (r *MongoProductRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProductRepository) DecrementStock(ctx context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "stock": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"stock": -amount},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrInsufficientStock
	}

	RecordUndo(ctx, func(ctx context.Context) error {
		return r.IncrementStock(ctx, id, amount)
	})
	return nil
}

func (r *MongoProductRepository) IncrementStock(ctx context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"stock": amount},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
