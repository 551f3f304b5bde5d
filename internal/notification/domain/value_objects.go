package domain

import (
	"strings"
)

// ============================================================================
// Channel Value Object
// ============================================================================

// Channel represents a delivery channel for a trainee notification.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelInApp Channel = "IN_APP"
)

// ValidChannels is a map of valid delivery channels.
var ValidChannels = map[Channel]bool{
	ChannelEmail: true,
	ChannelInApp: true,
}

// IsValid checks if the channel is valid.
func (c Channel) IsValid() bool {
	return ValidChannels[c]
}

// String returns the string representation.
func (c Channel) String() string {
	return string(c)
}

// ParseChannel parses a string into a Channel.
func ParseChannel(s string) (Channel, error) {
	channel := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !channel.IsValid() {
		return "", ErrInvalidChannel
	}
	return channel, nil
}

// AllChannels returns every channel the engine knows how to address.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelInApp}
}

// ============================================================================
// Status Value Object
// ============================================================================

// Status represents the lifecycle state of a history record.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusRead      Status = "READ"
	StatusUnread    Status = "UNREAD"
	StatusArchived  Status = "ARCHIVED"
	StatusDeleted   Status = "DELETED"
)

// ValidStatuses is a map of valid history statuses.
var ValidStatuses = map[Status]bool{
	StatusScheduled: true,
	StatusSent:      true,
	StatusFailed:    true,
	StatusRead:      true,
	StatusUnread:    true,
	StatusArchived:  true,
	StatusDeleted:   true,
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// IsFinal returns true if the status never transitions again once reached.
func (s Status) IsFinal() bool {
	return s == StatusDeleted
}

// CanTransitionTo checks if this status can transition to another, per the
// history record's lifecycle.
func (s Status) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusScheduled: {StatusSent, StatusFailed, StatusDeleted},
		StatusSent:      {StatusFailed, StatusRead, StatusUnread, StatusArchived, StatusDeleted},
		StatusFailed:    {StatusSent, StatusDeleted},
		StatusRead:      {StatusUnread, StatusArchived, StatusDeleted},
		StatusUnread:    {StatusRead, StatusArchived, StatusDeleted},
		StatusArchived:  {StatusRead, StatusUnread, StatusDeleted},
		StatusDeleted:   {},
	}
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == target {
			return true
		}
	}
	return false
}

// ParseStatus parses a string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// ============================================================================
// NotificationType Value Object
// ============================================================================

// NotificationType identifies which template and milestone rule a planned
// notification follows. Its string form is also the first segment of a
// jobId ("<notificationType>-<tisReference.id>"), so these values are a
// wire contract, not just a display label.
type NotificationType string

const (
	// Programme membership milestones, counted down from the programme
	// start date.
	NotificationTypeProgrammeUpdatedWeek8 NotificationType = "PROGRAMME_UPDATED_WEEK_8"
	NotificationTypeProgrammeUpdatedWeek4 NotificationType = "PROGRAMME_UPDATED_WEEK_4"
	NotificationTypeProgrammeUpdatedWeek0 NotificationType = "PROGRAMME_UPDATED_WEEK_0"

	// Placement milestone, counted down from the placement start date.
	NotificationTypePlacementUpdatedWeek12 NotificationType = "PLACEMENT_UPDATED_WEEK_12"

	// Form / certificate / account / LTFT lifecycle, delivered immediately.
	NotificationTypeFormUpdated    NotificationType = "FORM_UPDATED"
	NotificationTypeCojConfirmed   NotificationType = "COJ_CONFIRMED"
	NotificationTypeGmcUpdated     NotificationType = "GMC_UPDATED"
	NotificationTypeLtftUpdated    NotificationType = "LTFT_UPDATED"
	NotificationTypeAccountCreated NotificationType = "ACCOUNT_CONFIRMATION"
)

// String returns the string representation.
func (t NotificationType) String() string {
	return string(t)
}

// TemplateName returns the template-path segment for this notification
// type. Every notification type here already doubles as its own template
// name; this keeps template resolution a plain string lookup instead of
// the reflection-driven enum parsing called out in the redesign notes.
func (t NotificationType) TemplateName() string {
	return string(t)
}

// ============================================================================
// TisReference Value Object
// ============================================================================

// TisReferenceType identifies which kind of TIS entity a History row or
// PlannedNotification is about.
type TisReferenceType string

const (
	TisReferenceProgrammeMembership TisReferenceType = "PROGRAMME_MEMBERSHIP"
	TisReferencePlacement           TisReferenceType = "PLACEMENT"
	TisReferenceLTFT                TisReferenceType = "LTFT"
	TisReferenceCoJ                 TisReferenceType = "COJ"
	TisReferenceForm                TisReferenceType = "FORM"
	TisReferenceGMC                 TisReferenceType = "GMC"
	TisReferenceAccount             TisReferenceType = "ACCOUNT"
)

// TisReference identifies the upstream TIS entity that triggered a
// notification. The combination of (recipient.personId, TisReference,
// notificationType) is what the unique-open-schedule invariant is keyed
// on, and "<notificationType>-<tisReference.id>" is the jobId.
type TisReference struct {
	Type TisReferenceType `json:"type" bson:"type"`
	ID   string           `json:"id" bson:"id"`
}

// ============================================================================
// Contact Value Object
// ============================================================================

// ContactHref classifies how a LocalOfficeContact's value should be
// rendered: as a mailto link, a plain URL, or neither.
type ContactHref string

const (
	ContactHrefEmail   ContactHref = "email"
	ContactHrefURL     ContactHref = "url"
	ContactHrefNonHref ContactHref = "non_href"
)

// FallbackSupportContact is substituted whenever a local office contact is
// missing or unusable (neither a valid URL nor a single email address).
const FallbackSupportContact = "TSS_SUPPORT"

// LocalOfficeContact is the normalized contact attached to a programme or
// placement notification, resolved from the reference service.
type LocalOfficeContact struct {
	Type         string      `json:"type"`
	ContactValue string      `json:"contactValue"`
	ContactHref  ContactHref `json:"contactHref"`
}
