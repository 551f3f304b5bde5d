package domain

import "time"

// PlannedNotification is the transient output of a domain-entity service's
// Plan: one candidate delivery, not yet deduplicated, suppressed, or
// persisted. The Notification Service turns zero-or-more of these into
// History rows and Scheduler entries.
type PlannedNotification struct {
	JobID            string
	NotificationType NotificationType
	TisReference     TisReference
	PersonID         string
	Channel          Channel
	Variables        map[string]interface{}
	// FireAt is the intended delivery time. The zero value means "send
	// immediately" (modulo the configured minimum delay).
	FireAt time.Time
	// Window is the acceptable lateness for a missed fire.
	Window time.Duration
}

// JobID builds the stable job identity a PlannedNotification and its
// corresponding ScheduleEntry/History row are keyed on.
func JobID(notifType NotificationType, tisID string) string {
	return string(notifType) + "-" + tisID
}

// IsImmediate reports whether this plan should bypass the scheduler.
func (p *PlannedNotification) IsImmediate() bool {
	return p.FireAt.IsZero()
}
