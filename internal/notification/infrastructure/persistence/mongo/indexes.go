package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the History and Schedule indexes the repositories
// query against: the trainee inbox lookup, the unique-open-schedule lookup,
// and the scheduler's due-entry scan.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	historyIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "recipient.personId", Value: 1}, {Key: "sentAt", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "recipient.personId", Value: 1},
				{Key: "tisReference.type", Value: 1},
				{Key: "tisReference.id", Value: 1},
				{Key: "notificationType", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	}
	if _, err := db.Collection(historyCollection).Indexes().CreateMany(ctx, historyIndexes); err != nil {
		return fmt.Errorf("create History indexes: %w", err)
	}

	scheduleIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "state", Value: 1}, {Key: "fireAt", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "historyId", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := db.Collection(scheduleCollection).Indexes().CreateMany(ctx, scheduleIndexes); err != nil {
		return fmt.Errorf("create Schedule indexes: %w", err)
	}
	return nil
}
