// Package ports defines the capability interfaces consumed by the
// notification orchestration core. Each is backed by exactly one
// infrastructure adapter; the core never imports an adapter package
// directly.
package ports

import (
	"context"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

// Clock abstracts time.Now so reconciliation sweeps and milestone
// calculations are deterministic under test.
type Clock interface {
	Now() time.Time
}

// TemplateRenderer renders a notification type's content for a channel.
type TemplateRenderer interface {
	// Render returns the subject (empty for IN_APP) and content for the
	// given notification type, channel, and template variables. Any
	// variable whose runtime value is an absolute timestamp is converted to
	// the configured display timezone before the template is executed; the
	// caller passes raw values.
	Render(ctx context.Context, notifType domain.NotificationType, channel domain.Channel, vars map[string]interface{}) (subject, content string, templateVersion string, err error)
}

// MailGateway is the thin edge client for the external mail delivery
// service. It neither retries nor classifies errors; the caller wraps it
// with the circuit breaker and retry policy. historyID is submitted as the
// NotificationId provider header for bounce/complaint correlation.
type MailGateway interface {
	SendEmail(ctx context.Context, historyID, to, subject, htmlBody string) (providerMessageID string, err error)
}

// EventPublisher broadcasts the full serialized History record onto the
// outbound FIFO topic for downstream subscribers. A nil/no-op
// implementation is used when no topic is configured; transport errors are
// logged and swallowed by the adapter, never returned to the core.
type EventPublisher interface {
	Publish(ctx context.Context, h *domain.History) error
}

// TraineeContactDetails is the subset of directory data the engine needs to
// address a notification.
type TraineeContactDetails struct {
	TraineeID  string
	Email      string
	GivenName  string
	FamilyName string
}

// UserDetails is one user-directory account record.
type UserDetails struct {
	UserID     string `json:"userId"`
	TraineeID  string `json:"traineeId"`
	Email      string `json:"email"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// UserDirectory resolves trainee identities against the upstream user
// directory. GetUserAccountIds reads a warm cache of the whole
// person-id to user-id map; a miss triggers one full rebuild scan, rate
// limited by the configured cooldown. The details lookups are single-shot
// filtered queries and fail with a user-not-found error on zero matches.
type UserDirectory interface {
	// Lookup resolves a trainee id to contact details: the trainee's
	// cached account ids joined with a details query for the first one.
	Lookup(ctx context.Context, traineeID string) (*TraineeContactDetails, error)
	// GetUserAccountIds returns the set of user-directory account ids
	// linked to a trainee person id.
	GetUserAccountIds(ctx context.Context, personID string) ([]string, error)
	GetUserDetailsByID(ctx context.Context, userID string) (*UserDetails, error)
	GetUserDetailsByEmail(ctx context.Context, email string) (*UserDetails, error)
}

// MessagingController decides whether a recipient may currently
// be sent to, and answers the pilot-rollout / new-starter questions the
// domain-entity services need during normalization. Every method is
// fail-closed: a transport error or an explicit null result is treated as
// false rather than propagated, since none of these checks are in the
// critical path of "the notification must be delivered".
type MessagingController interface {
	// IsValidRecipient reports whether personId is whitelisted, falling
	// back to the channel's global enable flag when it is not.
	IsValidRecipient(ctx context.Context, personID string, channel domain.Channel) bool
	IsPlacementInPilot2024(ctx context.Context, personID, placementID string) (bool, error)
	IsProgrammeMembershipInPilot2024(ctx context.Context, personID, programmeMembershipID string) (bool, error)
	IsProgrammeMembershipNewStarter(ctx context.Context, personID, programmeMembershipID string) (bool, error)
	// ResolveLocalOfficeContact looks up the contact details for a managing
	// local office/deanery, for the normalization step of apply-entity.
	// The adapter substitutes the fallback support contact itself when the
	// raw value is unusable; this method never returns a nil contact.
	ResolveLocalOfficeContact(ctx context.Context, owner string) (*domain.LocalOfficeContact, error)
}

// Scheduler arms and removes timed jobs. Firing invokes the registered
// handler at-least-once; the handler is responsible for idempotency (the
// history record's status transition guards against double-send).
type Scheduler interface {
	// Schedule upserts a PENDING entry for jobID; a PENDING entry that
	// already exists for this jobID is replaced (last-writer-wins on
	// fireAt and payload). window is the grace period within which a
	// missed fire is still executed; zero means a missed fire is dropped.
	Schedule(ctx context.Context, jobID string, fireAt time.Time, window time.Duration, payload []byte) error
	// Remove cancels a PENDING job. Removing a job that does not exist, or
	// one that has already fired, is not an error.
	Remove(ctx context.Context, jobID string) error
	// ListPending returns the jobIDs of every PENDING entry, for the
	// reconciliation sweep to compare against open History rows.
	ListPending(ctx context.Context) ([]string, error)
}

// ScheduleFireHandler is invoked by the scheduler when a job's fire time
// arrives.
type ScheduleFireHandler func(ctx context.Context, jobID string, payload []byte) error

// OutboxPublisher wakes the outbox worker immediately instead of waiting
// for its poll interval, used after a write that a caller wants reflected
// without delay.
type OutboxPublisher interface {
	Notify(ctx context.Context, notificationID string)
}
