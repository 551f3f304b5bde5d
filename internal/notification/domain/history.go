package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Recipient identifies who a History row is addressed to and how.
type Recipient struct {
	PersonID string  `json:"personId" bson:"personId"`
	Channel  Channel `json:"channel" bson:"channel"`
	Contact  string  `json:"contact,omitempty" bson:"contact,omitempty"`
}

// Template captures exactly what was rendered (or will be re-rendered) for
// a History row, so the trainee-facing read API can reproduce the same
// body deterministically without recomputing the plan that produced it.
type Template struct {
	Name      string                 `json:"name" bson:"name"`
	Version   string                 `json:"version" bson:"version"`
	Variables map[string]interface{} `json:"variables,omitempty" bson:"variables,omitempty"`
}

// History is the durable record of one notification planned, scheduled,
// sent, failed, or read for a trainee. Its id is an opaque, monotonically
// sortable Mongo ObjectID, which lets the trainee-facing read API page
// through a person's history in creation order without a secondary index.
type History struct {
	ID primitive.ObjectID `json:"id" bson:"_id"`

	TisReference     TisReference     `json:"tisReference" bson:"tisReference"`
	NotificationType NotificationType `json:"notificationType" bson:"notificationType"`
	Recipient        Recipient        `json:"recipient" bson:"recipient"`
	TemplateInfo     Template         `json:"template" bson:"template"`

	// SentAt is the intended fire time while Status=SCHEDULED, and the
	// actual delivery time once SENT or FAILED.
	SentAt       time.Time  `json:"sentAt" bson:"sentAt"`
	ReadAt       *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`
	Status       Status     `json:"status" bson:"status"`
	StatusDetail string     `json:"statusDetail,omitempty" bson:"statusDetail,omitempty"`
	LastRetry    *time.Time `json:"lastRetry,omitempty" bson:"lastRetry,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`

	domainEvents []DomainEvent
}

// NewHistory creates a new History row in SCHEDULED status, with sentAt
// set to the intended fire time. Callers that send immediately should
// follow up with MarkSent/MarkUnreadDelivered (or MarkFailed) before Save.
func NewHistory(personID string, ref TisReference, notifType NotificationType, channel Channel, fireAt time.Time) (*History, error) {
	if personID == "" {
		return nil, NewValidationError("recipient.personId", "person id is required", "REQUIRED")
	}
	if !channel.IsValid() {
		return nil, ErrInvalidChannel
	}
	now := time.Now().UTC()
	return &History{
		ID:               primitive.NewObjectID(),
		TisReference:     ref,
		NotificationType: notifType,
		Recipient:        Recipient{PersonID: personID, Channel: channel},
		Status:           StatusScheduled,
		SentAt:           fireAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// GetDomainEvents returns pending domain events raised against this record.
func (h *History) GetDomainEvents() []DomainEvent {
	return h.domainEvents
}

// ClearDomainEvents clears pending domain events, once a caller has
// published them.
func (h *History) ClearDomainEvents() {
	h.domainEvents = nil
}

func (h *History) transition(target Status) error {
	if !h.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	h.Status = target
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSent transitions a scheduled or failed record to SENT, setting
// sentAt to the actual delivery time.
func (h *History) MarkSent() error {
	if err := h.transition(StatusSent); err != nil {
		return err
	}
	h.SentAt = time.Now().UTC()
	h.StatusDetail = ""
	h.domainEvents = append(h.domainEvents, NewHistorySentEvent(h.ID, h.Recipient.PersonID, h.NotificationType))
	return nil
}

// MarkUnreadDelivered transitions a scheduled record straight to UNREAD,
// the path an in-app notification takes instead of SENT (it is delivered
// by being persisted, not submitted to a mail gateway).
func (h *History) MarkUnreadDelivered() error {
	if !h.Status.CanTransitionTo(StatusSent) {
		return ErrInvalidTransition
	}
	h.Status = StatusUnread
	h.SentAt = time.Now().UTC()
	h.UpdatedAt = h.SentAt
	h.domainEvents = append(h.domainEvents, NewHistorySentEvent(h.ID, h.Recipient.PersonID, h.NotificationType))
	return nil
}

// MarkFailed transitions the record to FAILED, recording the failure
// reason/detail for operator triage and trainee-invisible audit.
func (h *History) MarkFailed(detail string) error {
	if err := h.transition(StatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	h.LastRetry = &now
	h.StatusDetail = detail
	h.domainEvents = append(h.domainEvents, NewHistoryFailedEvent(h.ID, h.Recipient.PersonID, h.NotificationType, detail))
	return nil
}

// MarkRead transitions a SENT/UNREAD/ARCHIVED in-app notification to READ.
func (h *History) MarkRead() error {
	if err := h.transition(StatusRead); err != nil {
		return err
	}
	now := time.Now().UTC()
	h.ReadAt = &now
	return nil
}

// MarkUnread reverses MarkRead.
func (h *History) MarkUnread() error {
	if err := h.transition(StatusUnread); err != nil {
		return err
	}
	h.ReadAt = nil
	return nil
}

// Archive moves a SENT, READ, or UNREAD record out of the trainee's active
// inbox view.
func (h *History) Archive() error {
	return h.transition(StatusArchived)
}

// Delete marks the record deleted. DELETED is terminal from any status and
// the transition is idempotent.
func (h *History) Delete() error {
	if h.Status == StatusDeleted {
		return nil
	}
	h.Status = StatusDeleted
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// IsScheduled reports whether this record still has a pending fire.
func (h *History) IsScheduled() bool {
	return h.Status == StatusScheduled
}

// IsTerminalOrSent reports whether this record already represents a
// delivered or permanently closed outcome, the condition the apply-entity
// algorithm's deduplication step checks for.
func (h *History) IsTerminalOrSent() bool {
	switch h.Status {
	case StatusSent, StatusRead, StatusUnread, StatusArchived, StatusDeleted:
		return true
	default:
		return false
	}
}

// JobID returns the stable job identity this history row was scheduled or
// sent under.
func (h *History) JobID() string {
	return JobID(h.NotificationType, h.TisReference.ID)
}
