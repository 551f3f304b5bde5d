package domain

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HistoryRepository persists and queries History records.
type HistoryRepository interface {
	// Save assigns an id if absent and upserts idempotently by id.
	Save(ctx context.Context, h *History) error

	// FindByID returns a History record by its id, regardless of owner,
	// or nil if none exists. Used internally (scheduler fire handler,
	// outbox worker); the trainee-facing read paths use FindByIDAndPerson
	// instead.
	FindByID(ctx context.Context, id primitive.ObjectID) (*History, error)

	// FindAllByPersonOrderBySentAtDesc returns every non-deleted History
	// row for a trainee, newest first.
	FindAllByPersonOrderBySentAtDesc(ctx context.Context, personID string) ([]*History, error)

	// FindByIDAndPerson returns a History row only if it is owned by
	// personID, nil otherwise (never leaking another trainee's record).
	FindByIDAndPerson(ctx context.Context, id primitive.ObjectID, personID string) (*History, error)

	// FindScheduledForTrainee returns the unique open (status=SCHEDULED)
	// History row for (personID, ref, notifType), or nil if none exists.
	FindScheduledForTrainee(ctx context.Context, personID string, ref TisReference, notifType NotificationType) (*History, error)

	// FindTerminalOrSent returns the most recent History row for
	// (personID, ref, notifType) that already represents a delivered or
	// closed outcome (the apply-entity deduplication check), or nil.
	FindTerminalOrSent(ctx context.Context, personID string, ref TisReference, notifType NotificationType) (*History, error)

	// UpdateStatus transitions id to status, setting detail and (when
	// transitioning to READ) readAt. Returns nil, nil for a non-existent
	// id rather than an error.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status Status, detail string) (*History, error)

	// DeleteByIDAndPerson removes a History row owned by personID.
	DeleteByIDAndPerson(ctx context.Context, id primitive.ObjectID, personID string) error

	// FindOpenSchedules returns every SCHEDULED History row, for the
	// reconciliation sweep to compare against Scheduler pending entries.
	FindOpenSchedules(ctx context.Context) ([]*History, error)
}

// ScheduleRepository persists and queries ScheduleEntry jobs.
type ScheduleRepository interface {
	Save(ctx context.Context, s *ScheduleEntry) error
	FindByJobID(ctx context.Context, jobID string) (*ScheduleEntry, error)
	DeleteByJobID(ctx context.Context, jobID string) error
	// ListPending returns every PENDING entry.
	ListPending(ctx context.Context) ([]*ScheduleEntry, error)
	// FindDue returns PENDING entries whose FireAt is at or before now, for
	// the startup/periodic missed-fire sweep to arm.
	FindDue(ctx context.Context, now time.Time) ([]*ScheduleEntry, error)
	// FindStaleFiring returns entries stuck in FIRING past the catch-up
	// window, which the reconciliation sweep re-fires at-least-once.
	FindStaleFiring(ctx context.Context, olderThan time.Time) ([]*ScheduleEntry, error)
}
