package repository

import (
	"context"
	"errors"
	"fmt"

	"storefront/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTokenBlacklist reads the tokens logout wrote to blacklist_tokens.
type MongoTokenBlacklist struct {
	collection *mongo.Collection
}

func NewMongoTokenBlacklist(db *mongo.Database) *MongoTokenBlacklist {
	return &MongoTokenBlacklist{collection: db.Collection(database.BlacklistCollection)}
}

func (b *MongoTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	var doc bson.M
	err := b.collection.FindOne(ctx, bson.M{"token": token},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find blacklisted token: %w", err)
	}
	return true, nil
}
