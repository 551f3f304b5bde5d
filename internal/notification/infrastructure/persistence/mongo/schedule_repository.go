package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

const scheduleCollection = "Schedule"

// ScheduleRepository is the Mongo-backed implementation of
// domain.ScheduleRepository.
type ScheduleRepository struct {
	collection *mongo.Collection
}

// NewScheduleRepository constructs a ScheduleRepository against the given
// database.
func NewScheduleRepository(db *mongo.Database) *ScheduleRepository {
	return &ScheduleRepository{collection: db.Collection(scheduleCollection)}
}

// Save upserts a ScheduleEntry by jobId.
func (r *ScheduleRepository) Save(ctx context.Context, s *domain.ScheduleEntry) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": s.JobID}, s, opts)
	return err
}

// FindByJobID returns a ScheduleEntry by its job id.
func (r *ScheduleRepository) FindByJobID(ctx context.Context, jobID string) (*domain.ScheduleEntry, error) {
	var s domain.ScheduleEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": jobID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteByJobID removes a ScheduleEntry.
func (r *ScheduleRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": jobID})
	return err
}

// ListPending returns every PENDING entry.
func (r *ScheduleRepository) ListPending(ctx context.Context) ([]*domain.ScheduleEntry, error) {
	return r.find(ctx, bson.M{"state": domain.ScheduleStatePending})
}

// FindDue returns PENDING entries due at or before now.
func (r *ScheduleRepository) FindDue(ctx context.Context, now time.Time) ([]*domain.ScheduleEntry, error) {
	return r.find(ctx, bson.M{
		"state":  domain.ScheduleStatePending,
		"fireAt": bson.M{"$lte": now},
	})
}

// FindStaleFiring returns entries stuck FIRING past the catch-up window.
func (r *ScheduleRepository) FindStaleFiring(ctx context.Context, olderThan time.Time) ([]*domain.ScheduleEntry, error) {
	return r.find(ctx, bson.M{
		"state":  domain.ScheduleStateFiring,
		"fireAt": bson.M{"$lte": olderThan},
	})
}

func (r *ScheduleRepository) find(ctx context.Context, query bson.M) ([]*domain.ScheduleEntry, error) {
	cursor, err := r.collection.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []*domain.ScheduleEntry
	for cursor.Next(ctx) {
		var s domain.ScheduleEntry
		if err := cursor.Decode(&s); err != nil {
			return nil, err
		}
		results = append(results, &s)
	}
	return results, cursor.Err()
}
