// Package fixtures provides test data fixtures for integration testing.
package fixtures

import (
	"time"

	"github.com/google/uuid"
)

// TestIDs contains commonly used test identifiers: trainee person ids and
// the TIS ids of the entities that trigger notifications.
var TestIDs = struct {
	TraineeID1             uuid.UUID
	TraineeID2             uuid.UUID
	TraineeID3             uuid.UUID
	ProgrammeMembershipID1 uuid.UUID
	ProgrammeMembershipID2 uuid.UUID
	PlacementID1           uuid.UUID
	PlacementID2           uuid.UUID
	FormID1                uuid.UUID
	LtftFormID1            uuid.UUID
	CojID1                 uuid.UUID
	AccountID1             uuid.UUID
	NotificationID1        uuid.UUID
}{
	TraineeID1:             uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	TraineeID2:             uuid.MustParse("22222222-2222-2222-2222-222222222222"),
	TraineeID3:             uuid.MustParse("33333333-3333-3333-3333-333333333333"),
	ProgrammeMembershipID1: uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
	ProgrammeMembershipID2: uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"),
	PlacementID1:           uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc"),
	PlacementID2:           uuid.MustParse("dddddddd-dddd-dddd-dddd-dddddddddddd"),
	FormID1:                uuid.MustParse("f0111111-1111-1111-1111-111111111111"),
	LtftFormID1:            uuid.MustParse("f0222222-2222-2222-2222-222222222222"),
	CojID1:                 uuid.MustParse("c0111111-1111-1111-1111-111111111111"),
	AccountID1:             uuid.MustParse("ac111111-1111-1111-1111-111111111111"),
	NotificationID1:        uuid.MustParse("90711111-1111-1111-1111-111111111111"),
}

// HistoryFixture represents a History document shaped the way the Mongo
// History collection stores it.
type HistoryFixture struct {
	ID               string                 `bson:"_id"`
	TisReferenceType string                 `bson:"tisReference.type"`
	TisReferenceID   string                 `bson:"tisReference.id"`
	NotificationType string                 `bson:"notificationType"`
	PersonID         string                 `bson:"recipient.personId"`
	Channel          string                 `bson:"recipient.channel"`
	Contact          string                 `bson:"recipient.contact"`
	TemplateName     string                 `bson:"template.name"`
	TemplateVersion  string                 `bson:"template.version"`
	Variables        map[string]interface{} `bson:"template.variables"`
	SentAt           time.Time              `bson:"sentAt"`
	Status           string                 `bson:"status"`
	StatusDetail     string                 `bson:"statusDetail"`
}

// DefaultHistoryFixtures returns a representative spread of lifecycle
// states: an open schedule, a delivered email, an unread in-app entry, and
// a suppressed failure.
func DefaultHistoryFixtures() []HistoryFixture {
	now := time.Now().UTC()
	return []HistoryFixture{
		{
			ID:               "65a1b2c3d4e5f6a7b8c9d001",
			TisReferenceType: "PROGRAMME_MEMBERSHIP",
			TisReferenceID:   TestIDs.ProgrammeMembershipID1.String(),
			NotificationType: "PROGRAMME_UPDATED_WEEK_8",
			PersonID:         TestIDs.TraineeID1.String(),
			Channel:          "EMAIL",
			TemplateName:     "PROGRAMME_UPDATED_WEEK_8",
			TemplateVersion:  "v1",
			Variables:        map[string]interface{}{"ProgrammeName": "Core Medical Training"},
			SentAt:           now.AddDate(0, 0, 14),
			Status:           "SCHEDULED",
		},
		{
			ID:               "65a1b2c3d4e5f6a7b8c9d002",
			TisReferenceType: "ACCOUNT",
			TisReferenceID:   TestIDs.AccountID1.String(),
			NotificationType: "ACCOUNT_CONFIRMATION",
			PersonID:         TestIDs.TraineeID1.String(),
			Channel:          "EMAIL",
			Contact:          "trainee1@test.example",
			TemplateName:     "ACCOUNT_CONFIRMATION",
			TemplateVersion:  "v1",
			SentAt:           now.Add(-24 * time.Hour),
			Status:           "SENT",
		},
		{
			ID:               "65a1b2c3d4e5f6a7b8c9d003",
			TisReferenceType: "FORM",
			TisReferenceID:   TestIDs.FormID1.String(),
			NotificationType: "FORM_UPDATED",
			PersonID:         TestIDs.TraineeID2.String(),
			Channel:          "IN_APP",
			TemplateName:     "FORM_UPDATED",
			TemplateVersion:  "v1",
			Variables:        map[string]interface{}{"FormType": "FORMR_PARTA", "LifecycleState": "SUBMITTED"},
			SentAt:           now.Add(-time.Hour),
			Status:           "UNREAD",
		},
		{
			ID:               "65a1b2c3d4e5f6a7b8c9d004",
			TisReferenceType: "PLACEMENT",
			TisReferenceID:   TestIDs.PlacementID1.String(),
			NotificationType: "PLACEMENT_UPDATED_WEEK_12",
			PersonID:         TestIDs.TraineeID3.String(),
			Channel:          "EMAIL",
			TemplateName:     "PLACEMENT_UPDATED_WEEK_12",
			TemplateVersion:  "v1",
			SentAt:           now.Add(-48 * time.Hour),
			Status:           "FAILED",
			StatusDetail:     "suppressed",
		},
	}
}

// QueuePayloadFixtures returns inbound queue message bodies keyed by event
// family, shaped exactly as the upstream publishers send them.
func QueuePayloadFixtures() map[string]string {
	return map[string]string{
		"programme-membership-event": `{
			"traineeTisId": "` + TestIDs.TraineeID1.String() + `",
			"record": {"data": {
				"tisId": "` + TestIDs.ProgrammeMembershipID1.String() + `",
				"programmeName": "Core Medical Training",
				"startDate": "2030-01-01T00:00:00Z",
				"owner": "North West"
			}}
		}`,
		"placement-event": `{
			"traineeTisId": "` + TestIDs.TraineeID1.String() + `",
			"record": {"data": {
				"tisId": "` + TestIDs.PlacementID1.String() + `",
				"placementType": "In Post",
				"site": "General Hospital",
				"specialty": "Cardiology",
				"startDate": "2030-04-01T00:00:00Z",
				"owner": "North West"
			}}
		}`,
		"ltft-event": `{
			"traineeTisId": "` + TestIDs.TraineeID2.String() + `",
			"formRef": "` + TestIDs.LtftFormID1.String() + `",
			"status": {"current": {"state": "APPROVED", "timestamp": "2030-01-01T10:00:00Z"}},
			"content": {"wte": 0.8}
		}`,
		"mail-feedback-event": `{
			"type": "Bounce",
			"bounce": {"bounceType": "Transient", "bounceSubType": "General"},
			"headers": [{"name": "NotificationId", "value": "65a1b2c3d4e5f6a7b8c9d002"}]
		}`,
	}
}

// EventFixture represents a test event for event bus testing.
type EventFixture struct {
	ID            string
	Type          string
	AggregateID   string
	AggregateType string
	Version       int
	Timestamp     time.Time
	Data          map[string]interface{}
}

// DefaultEventFixtures returns default event fixtures covering the inbound
// families the listeners subscribe to.
func DefaultEventFixtures() []EventFixture {
	now := time.Now().UTC()
	return []EventFixture{
		{
			ID:            uuid.New().String(),
			Type:          "programme-membership-event",
			AggregateID:   TestIDs.ProgrammeMembershipID1.String(),
			AggregateType: "ProgrammeMembership",
			Version:       1,
			Timestamp:     now,
			Data: map[string]interface{}{
				"traineeTisId": TestIDs.TraineeID1.String(),
			},
		},
		{
			ID:            uuid.New().String(),
			Type:          "placement-event",
			AggregateID:   TestIDs.PlacementID1.String(),
			AggregateType: "Placement",
			Version:       1,
			Timestamp:     now,
			Data: map[string]interface{}{
				"traineeTisId": TestIDs.TraineeID1.String(),
			},
		},
		{
			ID:            uuid.New().String(),
			Type:          "ltft-event",
			AggregateID:   TestIDs.LtftFormID1.String(),
			AggregateType: "LtftForm",
			Version:       2,
			Timestamp:     now,
			Data: map[string]interface{}{
				"traineeTisId": TestIDs.TraineeID2.String(),
				"formRef":      TestIDs.LtftFormID1.String(),
			},
		},
		{
			ID:            uuid.New().String(),
			Type:          "account-confirmation-event",
			AggregateID:   TestIDs.AccountID1.String(),
			AggregateType: "Account",
			Version:       1,
			Timestamp:     now,
			Data: map[string]interface{}{
				"traineeTisId": TestIDs.TraineeID1.String(),
				"email":        "trainee1@test.example",
			},
		},
	}
}

// NewUUID generates a new UUID for testing.
func NewUUID() uuid.UUID {
	return uuid.New()
}

// TimeNow returns the current UTC time.
func TimeNow() time.Time {
	return time.Now().UTC()
}

// TimePast returns a time in the past.
func TimePast(d time.Duration) time.Time {
	return time.Now().UTC().Add(-d)
}

// TimeFuture returns a time in the future.
func TimeFuture(d time.Duration) time.Time {
	return time.Now().UTC().Add(d)
}
