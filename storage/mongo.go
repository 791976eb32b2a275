package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "edit_sessions"
	queryTimeout   = 5 * time.Second
)

type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *slog.Logger
}

// ConnectMongo opens and pings a client shared by the session and credit stores.
func ConnectMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	return client, nil
}

func NewMongoStorage(client *mongo.Client, database string, log *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection := client.Database(database).Collection(collectionName)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("creating index", slog.String("error", err.Error()))
	}

	return &MongoStorage{
		client:     client,
		collection: collection,
		log:        log,
	}, nil
}

func (m *MongoStorage) GetSession(ctx context.Context, conversationId string) (*SessionMemory, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var session SessionMemory
	err := m.collection.FindOne(ctx, bson.M{"conversation_id": conversationId}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return &session, nil
}

func (m *MongoStorage) SaveSession(ctx context.Context, session *SessionMemory) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	session.UpdatedAt = time.Now()
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"conversation_id": session.ConversationId}, session, opts)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (m *MongoStorage) ClearSession(ctx context.Context, conversationId string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := m.collection.DeleteOne(ctx, bson.M{"conversation_id": conversationId})
	return err
}

// Close disconnects the shared client; call it once, after the credit store.
func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
