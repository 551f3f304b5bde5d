// Package mapper translates inbound queue payloads into the domain entities
// the orchestration core understands. Every inbound family wraps its
// payload in an envelope carrying the trainee id outside the record body;
// GMC rejection and LTFT status-transition events use their own distinct
// shapes (see the per-entity comments below).
package mapper

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

// validate checks the struct tags on each entity's decoded record body,
// catching a malformed upstream payload before it reaches the domain layer.
// Field names in the resulting error mirror the wire payload, not the Go
// struct, since that's what an operator reading the log actually has.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRecord(entity string, data interface{}) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return fmt.Errorf("validate %s record: %w", entity, err)
	}
	first := fieldErrs[0]
	return domain.NewValidationError(first.Field(), fmt.Sprintf("%s: failed %s validation", entity, first.Tag()), "INVALID")
}

// envelope is the generic inbound shape: {traineeTisId, record:{data:{...}}}.
type envelope struct {
	TraineeTisID string     `json:"traineeTisId"`
	Record       recordBody `json:"record"`
}

type recordBody struct {
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return envelope{}, fmt.Errorf("decode queue envelope: %w", err)
	}
	return e, nil
}

func requireTraineeID(id string) error {
	if id == "" {
		return domain.NewValidationError("traineeTisId", "trainee id is required", "REQUIRED")
	}
	return nil
}

// ToProgrammeMembership unmarshals a programme membership queue payload.
func ToProgrammeMembership(payload []byte) (*domain.ProgrammeMembership, error) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}

	var data struct {
		TisID         string    `json:"tisId" validate:"required"`
		ProgrammeName string    `json:"programmeName" validate:"required"`
		StartDate     time.Time `json:"startDate" validate:"required"`
		Owner         string    `json:"owner"`
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode programme membership record: %w", err)
		}
		if err := validateRecord("programme membership", data); err != nil {
			return nil, err
		}
	}

	return &domain.ProgrammeMembership{
		ID:            data.TisID,
		PersonID:      e.TraineeTisID,
		ProgrammeName: data.ProgrammeName,
		StartDate:     data.StartDate,
		Owner:         data.Owner,
	}, nil
}

// ToPlacement unmarshals a placement queue payload.
func ToPlacement(payload []byte) (*domain.Placement, error) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}

	var data struct {
		TisID         string    `json:"tisId" validate:"required"`
		PlacementType string    `json:"placementType" validate:"required"`
		Site          string    `json:"site"`
		Specialty     string    `json:"specialty"`
		StartDate     time.Time `json:"startDate" validate:"required"`
		Owner         string    `json:"owner"`
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode placement record: %w", err)
		}
		if err := validateRecord("placement", data); err != nil {
			return nil, err
		}
	}

	return &domain.Placement{
		ID:            data.TisID,
		PersonID:      e.TraineeTisID,
		PlacementType: data.PlacementType,
		Site:          data.Site,
		Specialty:     data.Specialty,
		StartDate:     data.StartDate,
		Owner:         data.Owner,
	}, nil
}

// ltftPayload is the LTFT status-transition shape: {traineeTisId, formRef,
// status:{current:{state,timestamp}}, content:{...}}. content carries
// fields the business rules don't currently read and is ignored.
type ltftPayload struct {
	TraineeTisID string `json:"traineeTisId"`
	FormRef      string `json:"formRef" validate:"required"`
	Status       struct {
		Current struct {
			State     string    `json:"state" validate:"required"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"current"`
	} `json:"status"`
}

// ToLTFT unmarshals an LTFT status-transition queue payload.
func ToLTFT(payload []byte) (*domain.LTFT, error) {
	var p ltftPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode LTFT payload: %w", err)
	}
	if err := requireTraineeID(p.TraineeTisID); err != nil {
		return nil, err
	}
	if err := validateRecord("LTFT", p); err != nil {
		return nil, err
	}

	return &domain.LTFT{
		ID:       p.FormRef,
		PersonID: p.TraineeTisID,
		Status:   p.Status.Current.State,
	}, nil
}

// ToCertificateOfJoining unmarshals a CoJ queue payload.
func ToCertificateOfJoining(payload []byte) (*domain.CertificateOfJoining, error) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}

	var data struct {
		TisID         string    `json:"tisId" validate:"required"`
		ProgrammeName string    `json:"programmeName" validate:"required"`
		StartDate     time.Time `json:"startDate" validate:"required"`
		SyncedAt      time.Time `json:"syncedAt"`
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode certificate of joining record: %w", err)
		}
		if err := validateRecord("certificate of joining", data); err != nil {
			return nil, err
		}
	}

	return &domain.CertificateOfJoining{
		ID:            data.TisID,
		PersonID:      e.TraineeTisID,
		ProgrammeName: data.ProgrammeName,
		StartDate:     data.StartDate,
		SyncedAt:      data.SyncedAt,
	}, nil
}

// ToForm unmarshals a Form R / Form R Part B queue payload.
func ToForm(payload []byte) (*domain.Form, error) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}

	var data struct {
		TisID          string `json:"tisId" validate:"required"`
		FormType       string `json:"formType" validate:"required"`
		LifecycleState string `json:"lifecycleState" validate:"required"`
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode form record: %w", err)
		}
		if err := validateRecord("form", data); err != nil {
			return nil, err
		}
	}

	return &domain.Form{
		ID:             data.TisID,
		PersonID:       e.TraineeTisID,
		FormType:       data.FormType,
		LifecycleState: data.LifecycleState,
	}, nil
}

// gmcRejection is the GMC-rejection shape: {tisId, tisTrigger,
// tisTriggerDetail, record:{data:{gmcNumber, gmcStatus}}}. Here tisId
// identifies the trainee, not the GMC record.
type gmcRejection struct {
	TisID            string     `json:"tisId"`
	TisTrigger       string     `json:"tisTrigger"`
	TisTriggerDetail string     `json:"tisTriggerDetail"`
	Record           recordBody `json:"record"`
}

// ToGMCDetails unmarshals a GMC registration queue payload, which may be
// either a routine update (the generic envelope) or a rejection notice
// (gmcRejection). Presence of tisTrigger selects the rejection shape.
func ToGMCDetails(payload []byte) (*domain.GMCDetails, error) {
	var probe struct {
		TisTrigger string `json:"tisTrigger"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("decode GMC payload: %w", err)
	}

	var data struct {
		GmcNumber string `json:"gmcNumber"`
		GmcStatus string `json:"gmcStatus" validate:"required"`
	}

	if probe.TisTrigger != "" {
		var r gmcRejection
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode GMC rejection payload: %w", err)
		}
		if err := requireTraineeID(r.TisID); err != nil {
			return nil, err
		}
		if len(r.Record.Data) > 0 {
			if err := json.Unmarshal(r.Record.Data, &data); err != nil {
				return nil, fmt.Errorf("decode GMC rejection record: %w", err)
			}
			if err := validateRecord("GMC rejection", data); err != nil {
				return nil, err
			}
		}
		return &domain.GMCDetails{
			ID:               gmcReferenceID(data.GmcNumber, r.TisID),
			PersonID:         r.TisID,
			GmcNumber:        data.GmcNumber,
			GmcStatus:        data.GmcStatus,
			TisTrigger:       r.TisTrigger,
			TisTriggerDetail: r.TisTriggerDetail,
		}, nil
	}

	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode GMC record: %w", err)
		}
		if err := validateRecord("GMC", data); err != nil {
			return nil, err
		}
	}

	return &domain.GMCDetails{
		ID:        gmcReferenceID(data.GmcNumber, e.TraineeTisID),
		PersonID:  e.TraineeTisID,
		GmcNumber: data.GmcNumber,
		GmcStatus: data.GmcStatus,
	}, nil
}

// gmcReferenceID picks the TisReference id for a GMC record: the GMC number
// identifies the registration itself; a rejection notice without one falls
// back to the trainee id so the jobId stays stable for that trainee.
func gmcReferenceID(gmcNumber, traineeID string) string {
	if gmcNumber != "" {
		return gmcNumber
	}
	return traineeID
}

// ToAccount unmarshals an account-confirmation queue payload.
func ToAccount(payload []byte) (*domain.Account, error) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if err := requireTraineeID(e.TraineeTisID); err != nil {
		return nil, err
	}

	var data struct {
		TisID string `json:"tisId" validate:"required"`
		Email string `json:"email" validate:"required,email"`
	}
	if len(e.Record.Data) > 0 {
		if err := json.Unmarshal(e.Record.Data, &data); err != nil {
			return nil, fmt.Errorf("decode account record: %w", err)
		}
		if err := validateRecord("account", data); err != nil {
			return nil, err
		}
	}

	return &domain.Account{
		ID:       data.TisID,
		PersonID: e.TraineeTisID,
		Email:    data.Email,
	}, nil
}

// deletionPayload is the shape of a programme-membership/placement
// deletion notice: just the entity's own TIS id.
type deletionPayload struct {
	TisID string `json:"tisId"`
}

// ToDeletedTisID unmarshals a deletion queue payload, returning the TIS id
// of the programme membership or placement that was removed.
func ToDeletedTisID(payload []byte) (string, error) {
	var d deletionPayload
	if err := json.Unmarshal(payload, &d); err != nil {
		return "", fmt.Errorf("decode deletion payload: %w", err)
	}
	if d.TisID == "" {
		return "", domain.NewValidationError("tisId", "tis id is required", "REQUIRED")
	}
	return d.TisID, nil
}

// FeedbackEvent is the decoded shape of a mail-provider delivery-feedback
// notification, keyed on the NotificationId header the Mail Gateway
// attached to the originating send (mirrors the SES/SNS bounce/complaint
// notification body the provider relays back).
type FeedbackEvent struct {
	NotificationID    string
	Type              string // "Bounce" or "Complaint"
	BounceType        string
	BounceSubType     string
	ComplaintFeedback string
}

type feedbackHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type feedbackPayload struct {
	Type    string           `json:"type"` // "Bounce" or "Complaint"
	Headers []feedbackHeader `json:"headers"`
	Mail    struct {
		// Some provider relays nest the headers under the originating mail
		// object instead of carrying them at the top level.
		Headers []feedbackHeader `json:"headers"`
	} `json:"mail"`
	Bounce struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
	} `json:"bounce"`
	Complaint struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
	} `json:"complaint"`
}

// ToFeedbackEvent unmarshals a bounce/complaint feedback queue payload,
// correlating it back to a History row via its NotificationId header.
func ToFeedbackEvent(payload []byte) (*FeedbackEvent, error) {
	var p feedbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode feedback payload: %w", err)
	}

	var notificationID string
	for _, h := range append(p.Headers, p.Mail.Headers...) {
		if h.Name == "NotificationId" {
			notificationID = h.Value
			break
		}
	}
	if notificationID == "" {
		return nil, domain.NewValidationError("notificationId", "notification id header is required", "REQUIRED")
	}

	return &FeedbackEvent{
		NotificationID:    notificationID,
		Type:              p.Type,
		BounceType:        p.Bounce.BounceType,
		BounceSubType:     p.Bounce.BounceSubType,
		ComplaintFeedback: p.Complaint.ComplaintFeedbackType,
	}, nil
}
