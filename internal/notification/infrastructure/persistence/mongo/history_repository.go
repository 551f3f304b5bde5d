// Package mongo implements the Mongo-backed History and ScheduleEntry
// repositories.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

const historyCollection = "History"

// HistoryRepository is the Mongo-backed implementation of
// domain.HistoryRepository.
type HistoryRepository struct {
	collection *mongo.Collection
}

// NewHistoryRepository constructs a HistoryRepository against the given
// database.
func NewHistoryRepository(db *mongo.Database) *HistoryRepository {
	return &HistoryRepository{collection: db.Collection(historyCollection)}
}

// Save assigns an id if absent and upserts idempotently by id.
func (r *HistoryRepository) Save(ctx context.Context, h *domain.History) error {
	if h.ID.IsZero() {
		h.ID = primitive.NewObjectID()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": h.ID}, h, opts)
	return err
}

// FindByID returns a History record by its id, regardless of owner, or
// nil, nil when no such record exists.
func (r *HistoryRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*domain.History, error) {
	var h domain.History
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// FindAllByPersonOrderBySentAtDesc returns every non-deleted History row
// for a trainee, newest first.
func (r *HistoryRepository) FindAllByPersonOrderBySentAtDesc(ctx context.Context, personID string) ([]*domain.History, error) {
	query := bson.M{
		"recipient.personId": personID,
		"status":             bson.M{"$ne": domain.StatusDeleted},
	}
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []*domain.History
	for cursor.Next(ctx) {
		var h domain.History
		if err := cursor.Decode(&h); err != nil {
			return nil, err
		}
		results = append(results, &h)
	}
	return results, cursor.Err()
}

// FindByIDAndPerson returns a History row only if it is owned by personID.
func (r *HistoryRepository) FindByIDAndPerson(ctx context.Context, id primitive.ObjectID, personID string) (*domain.History, error) {
	var h domain.History
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "recipient.personId": personID}).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// FindScheduledForTrainee returns the unique open (status=SCHEDULED)
// History row for (personID, ref, notifType), or nil if none exists.
func (r *HistoryRepository) FindScheduledForTrainee(ctx context.Context, personID string, ref domain.TisReference, notifType domain.NotificationType) (*domain.History, error) {
	query := bson.M{
		"recipient.personId": personID,
		"tisReference.type":  ref.Type,
		"tisReference.id":    ref.ID,
		"notificationType":   notifType,
		"status":             domain.StatusScheduled,
	}
	var h domain.History
	err := r.collection.FindOne(ctx, query).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// FindTerminalOrSent returns the most recent History row for (personID,
// ref, notifType) that already represents a delivered or closed outcome.
func (r *HistoryRepository) FindTerminalOrSent(ctx context.Context, personID string, ref domain.TisReference, notifType domain.NotificationType) (*domain.History, error) {
	query := bson.M{
		"recipient.personId": personID,
		"tisReference.type":  ref.Type,
		"tisReference.id":    ref.ID,
		"notificationType":   notifType,
		"status": bson.M{"$in": []domain.Status{
			domain.StatusSent, domain.StatusRead, domain.StatusUnread,
			domain.StatusArchived, domain.StatusDeleted,
		}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	var h domain.History
	err := r.collection.FindOne(ctx, query, opts).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateStatus transitions id to status, setting detail and (when
// transitioning to READ) readAt. Returns nil, nil for a non-existent id.
func (r *HistoryRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, status domain.Status, detail string) (*domain.History, error) {
	set := bson.M{
		"status":       status,
		"statusDetail": detail,
		"updatedAt":    time.Now().UTC(),
	}
	if status == domain.StatusRead {
		now := time.Now().UTC()
		set["readAt"] = now
	} else if status == domain.StatusUnread {
		set["readAt"] = nil
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var h domain.History
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// DeleteByIDAndPerson removes a History row owned by personID.
func (r *HistoryRepository) DeleteByIDAndPerson(ctx context.Context, id primitive.ObjectID, personID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "recipient.personId": personID})
	return err
}

// FindOpenSchedules returns every SCHEDULED History row, for the
// reconciliation sweep to compare against Scheduler pending entries.
func (r *HistoryRepository) FindOpenSchedules(ctx context.Context) ([]*domain.History, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"status": domain.StatusScheduled})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []*domain.History
	for cursor.Next(ctx) {
		var h domain.History
		if err := cursor.Decode(&h); err != nil {
			return nil, err
		}
		results = append(results, &h)
	}
	return results, cursor.Err()
}
