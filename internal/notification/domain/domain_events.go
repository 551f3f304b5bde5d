package domain

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HistorySentEvent is raised when a notification is successfully delivered.
type HistorySentEvent struct {
	BaseDomainEvent
	TraineeID string           `json:"traineeId"`
	Type      NotificationType `json:"notificationType"`
}

// NewHistorySentEvent constructs a HistorySentEvent.
func NewHistorySentEvent(historyID primitive.ObjectID, traineeID string, notifType NotificationType) HistorySentEvent {
	return HistorySentEvent{
		BaseDomainEvent: NewBaseDomainEvent("notification.sent", "History", historyID.Hex(), 1),
		TraineeID:       traineeID,
		Type:            notifType,
	}
}

// HistoryFailedEvent is raised when delivery fails for the current attempt.
type HistoryFailedEvent struct {
	BaseDomainEvent
	TraineeID string           `json:"traineeId"`
	Type      NotificationType `json:"notificationType"`
	Reason    string           `json:"reason"`
}

// NewHistoryFailedEvent constructs a HistoryFailedEvent.
func NewHistoryFailedEvent(historyID primitive.ObjectID, traineeID string, notifType NotificationType, reason string) HistoryFailedEvent {
	return HistoryFailedEvent{
		BaseDomainEvent: NewBaseDomainEvent("notification.failed", "History", historyID.Hex(), 1),
		TraineeID:       traineeID,
		Type:            notifType,
		Reason:          reason,
	}
}
