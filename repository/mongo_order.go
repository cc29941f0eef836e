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

type MongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{collection: db.Collection(database.OrderCollection)}
}

func (r *MongoOrderRepository) Insert(ctx context.Context, order *models.Order) error {
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}

	id := order.ID
	RecordUndo(ctx, func(ctx context.Context) error {
		if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return fmt.Errorf("remove order %s: %w", id.Hex(), err)
		}
		return nil
	})
	return nil
}

func (r *MongoOrderRepository) Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoOrderRepository) FindByIdempotencyKey(ctx context.Context, userID primitive.ObjectID, key string) (*models.Order, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"userId": userID, "idempotencyKey": key})
}

func (r *MongoOrderRepository) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error) {
	return r.find(ctx, bson.M{"userId": userID})
}

func (r *MongoOrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoOrderRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, cond StatusCondition, update StatusUpdate) (*models.Order, error) {
	filter := bson.M{"_id": id}
	if !cond.UserID.IsZero() {
		filter["userId"] = cond.UserID
	}
	if cond.OrderStatus != "" {
		filter["orderStatus"] = cond.OrderStatus
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.OrderStatus != "" {
		set["orderStatus"] = update.OrderStatus
	}
	if update.PaymentStatus != "" {
		set["paymentStatus"] = update.PaymentStatus
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var order models.Order
	err := r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return &order, nil
}

func (r *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var order models.Order
	err := r.collection.FindOne(ctx, filter).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (r *MongoOrderRepository) find(ctx context.Context, filter bson.M) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}
