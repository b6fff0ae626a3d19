package events

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRecorder inserts events into a MongoDB collection.
type MongoRecorder struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo opens a client and returns a recorder bound to database/collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return &MongoRecorder{client: client, coll: coll}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, e Event) error {
	_, err := r.coll.InsertOne(ctx, e)
	return err
}

// Close disconnects the underlying client.
func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
