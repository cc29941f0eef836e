package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoTransactor runs work inside a multi-document transaction. The server
// must be a replica set or sharded cluster.
type MongoTransactor struct {
	client *mongo.Client
}

func NewTransactor(client *mongo.Client) *MongoTransactor {
	return &MongoTransactor{client: client}
}

// WithTransaction passes fn a session context; repository calls made with it
// join the transaction. Transient errors and write conflicts are retried by
// the driver, so fn may run more than once.
func (t *MongoTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := t.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, opts)
	return err
}
