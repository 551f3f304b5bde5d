package mapper

import (
	"errors"
	"testing"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

func TestToProgrammeMembership(t *testing.T) {
	payload := []byte(`{
		"traineeTisId": "p-9",
		"record": {"data": {
			"tisId": "pm-1",
			"programmeName": "Core Medical Training",
			"startDate": "2030-01-01T00:00:00Z",
			"owner": "North West",
			"somethingUnknown": true
		}}
	}`)

	pm, err := ToProgrammeMembership(payload)
	if err != nil {
		t.Fatalf("ToProgrammeMembership() error = %v", err)
	}
	if pm.ID != "pm-1" || pm.PersonID != "p-9" || pm.Owner != "North West" {
		t.Errorf("ToProgrammeMembership() = %+v, unexpected fields", pm)
	}
	want := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if !pm.StartDate.Equal(want) {
		t.Errorf("StartDate = %v, want %v", pm.StartDate, want)
	}
}

func TestToProgrammeMembership_MissingTraineeID(t *testing.T) {
	_, err := ToProgrammeMembership([]byte(`{"record":{"data":{"tisId":"pm-1"}}}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestToPlacement_InvalidRecord(t *testing.T) {
	payload := []byte(`{
		"traineeTisId": "p-9",
		"record": {"data": {"tisId": "placement-7"}}
	}`)
	_, err := ToPlacement(payload)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError for missing placementType", err)
	}
}

func TestToLTFT(t *testing.T) {
	payload := []byte(`{
		"traineeTisId": "p-9",
		"formRef": "ltft-42",
		"status": {"current": {"state": "APPROVED", "timestamp": "2030-01-01T10:00:00Z"}},
		"content": {"wte": 0.8}
	}`)
	l, err := ToLTFT(payload)
	if err != nil {
		t.Fatalf("ToLTFT() error = %v", err)
	}
	if l.ID != "ltft-42" || l.PersonID != "p-9" || l.Status != "APPROVED" {
		t.Errorf("ToLTFT() = %+v, unexpected fields", l)
	}
}

func TestToGMCDetails_RejectionShape(t *testing.T) {
	payload := []byte(`{
		"tisId": "p-9",
		"tisTrigger": "UPDATE_REJECTED",
		"tisTriggerDetail": "GMC number mismatch",
		"record": {"data": {"gmcNumber": "1234567", "gmcStatus": "REJECTED"}}
	}`)
	g, err := ToGMCDetails(payload)
	if err != nil {
		t.Fatalf("ToGMCDetails() error = %v", err)
	}
	if g.PersonID != "p-9" || g.GmcStatus != "REJECTED" || g.TisTrigger != "UPDATE_REJECTED" {
		t.Errorf("ToGMCDetails() = %+v, unexpected fields", g)
	}
	if g.ID != "1234567" {
		t.Errorf("ID = %q, want the GMC number", g.ID)
	}
}

func TestToGMCDetails_RoutineUpdate(t *testing.T) {
	payload := []byte(`{
		"traineeTisId": "p-9",
		"record": {"data": {"gmcNumber": "7654321", "gmcStatus": "REGISTERED"}}
	}`)
	g, err := ToGMCDetails(payload)
	if err != nil {
		t.Fatalf("ToGMCDetails() error = %v", err)
	}
	if g.ID != "7654321" || g.PersonID != "p-9" || g.TisTrigger != "" {
		t.Errorf("ToGMCDetails() = %+v, unexpected fields", g)
	}
}

func TestToDeletedTisID(t *testing.T) {
	id, err := ToDeletedTisID([]byte(`{"tisId": "pm-1"}`))
	if err != nil || id != "pm-1" {
		t.Fatalf("ToDeletedTisID() = %q, %v, want pm-1", id, err)
	}
	if _, err := ToDeletedTisID([]byte(`{}`)); err == nil {
		t.Fatal("ToDeletedTisID({}) should fail on a missing tisId")
	}
}

func TestToFeedbackEvent_Bounce(t *testing.T) {
	payload := []byte(`{
		"type": "Bounce",
		"bounce": {"bounceType": "Transient", "bounceSubType": "General"},
		"headers": [{"name": "NotificationId", "value": "65a1b2c3d4e5f6a7b8c9d0e1"}]
	}`)
	f, err := ToFeedbackEvent(payload)
	if err != nil {
		t.Fatalf("ToFeedbackEvent() error = %v", err)
	}
	if f.Type != "Bounce" || f.BounceType != "Transient" || f.BounceSubType != "General" {
		t.Errorf("ToFeedbackEvent() = %+v, unexpected fields", f)
	}
	if f.NotificationID != "65a1b2c3d4e5f6a7b8c9d0e1" {
		t.Errorf("NotificationID = %q, want the header value", f.NotificationID)
	}
}

func TestToFeedbackEvent_ComplaintWithNestedHeaders(t *testing.T) {
	payload := []byte(`{
		"type": "Complaint",
		"complaint": {"complaintFeedbackType": "abuse"},
		"mail": {"headers": [{"name": "NotificationId", "value": "65a1b2c3d4e5f6a7b8c9d0e2"}]}
	}`)
	f, err := ToFeedbackEvent(payload)
	if err != nil {
		t.Fatalf("ToFeedbackEvent() error = %v", err)
	}
	if f.Type != "Complaint" || f.ComplaintFeedback != "abuse" {
		t.Errorf("ToFeedbackEvent() = %+v, unexpected fields", f)
	}
	if f.NotificationID != "65a1b2c3d4e5f6a7b8c9d0e2" {
		t.Errorf("NotificationID = %q, want the nested header value", f.NotificationID)
	}
}

func TestToFeedbackEvent_MissingHeader(t *testing.T) {
	_, err := ToFeedbackEvent([]byte(`{"type": "Bounce", "bounce": {"bounceType": "Permanent"}}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError for missing NotificationId header", err)
	}
}
