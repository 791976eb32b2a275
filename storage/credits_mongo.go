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

const creditsCollectionName = "user_credits"

type creditRecord struct {
	UserId    string    `bson:"user_id"`
	Credits   int       `bson:"credits"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoCreditStorage is a MongoDB implementation of CreditStorage
type MongoCreditStorage struct {
	collection *mongo.Collection
	initial    int
	log        *slog.Logger
}

// NewMongoCreditStorage uses a client shared with the session storage
func NewMongoCreditStorage(client *mongo.Client, database string, initial int, log *slog.Logger) (*MongoCreditStorage, error) {
	collection := client.Database(database).Collection(creditsCollectionName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("creating credits index", slog.String("error", err.Error()))
	}

	return &MongoCreditStorage{
		collection: collection,
		initial:    initial,
		log:        log,
	}, nil
}

// ensure creates the record with the initial balance if it does not exist
func (m *MongoCreditStorage) ensure(ctx context.Context, userId string) error {
	now := time.Now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":    userId,
			"credits":    m.initial,
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userId}, update, opts)
	return err
}

func (m *MongoCreditStorage) GetBalance(ctx context.Context, userId string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := m.ensure(ctx, userId); err != nil {
		return 0, fmt.Errorf("creating credit record: %w", err)
	}
	var record creditRecord
	if err := m.collection.FindOne(ctx, bson.M{"user_id": userId}).Decode(&record); err != nil {
		return 0, fmt.Errorf("finding credits: %w", err)
	}
	return record.Credits, nil
}

// Decrement is a single conditional update so concurrent calls never take
// the balance below zero.
func (m *MongoCreditStorage) Decrement(ctx context.Context, userId string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := m.ensure(ctx, userId); err != nil {
		return false, fmt.Errorf("creating credit record: %w", err)
	}
	filter := bson.M{"user_id": userId, "credits": bson.M{"$gt": 0}}
	update := bson.M{
		"$inc": bson.M{"credits": -1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	var record creditRecord
	err := m.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("decrementing credits: %w", err)
	}
	m.log.With(
		slog.String("user", userId),
		slog.Int("credits", record.Credits),
	).Debug("credit consumed")
	return true, nil
}

// Close closes the storage (client is shared, don't disconnect here)
func (m *MongoCreditStorage) Close() error {
	return nil
}
