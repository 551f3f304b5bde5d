// Package listeners binds the inbound queue families to the Notification
// Service: one subscription per event family, translating the wire
// envelope via the mapper package and invoking the matching apply/delete
// method. Propagation follows the error taxonomy: a Validation error means
// the message itself is unusable and is acked without effect; a Transient
// error is returned to the bus so the delivery is nacked and redelivered;
// anything else is logged and acked, since endless redelivery of a bug
// would otherwise wedge the queue.
package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/application/mapper"
	"github.com/tis-trainee/notifications/internal/notification/application/usecase"
	"github.com/tis-trainee/notifications/internal/notification/domain"
	apperrors "github.com/tis-trainee/notifications/pkg/errors"
	"github.com/tis-trainee/notifications/pkg/events"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// Listeners owns one subscription per inbound queue family.
type Listeners struct {
	bus events.EventBus
	svc *usecase.NotificationService
	log *logger.Logger
}

// New constructs Listeners against an already-connected event bus.
func New(bus events.EventBus, svc *usecase.NotificationService, log *logger.Logger) *Listeners {
	return &Listeners{bus: bus, svc: svc, log: log}
}

// Start subscribes every family. Each subscription runs on its own queue so
// a slow handler in one family never blocks another.
func (l *Listeners) Start(ctx context.Context) error {
	subs := []struct {
		eventType events.EventType
		handle    func(context.Context, []byte) error
	}{
		{events.EventTypeProgrammeMembershipUpdated, l.handleProgrammeMembershipUpdated},
		{events.EventTypeProgrammeMembershipDeleted, l.handleProgrammeMembershipDeleted},
		{events.EventTypePlacementUpdated, l.handlePlacementUpdated},
		{events.EventTypePlacementDeleted, l.handlePlacementDeleted},
		{events.EventTypeLTFTUpdated, l.handleLTFT},
		{events.EventTypeCojConfirmed, l.handleCoj},
		{events.EventTypeFormUpdated, l.handleForm},
		{events.EventTypeGmcUpdated, l.handleGMC},
		{events.EventTypeAccountCreated, l.handleAccount},
		{events.EventTypeMailFeedback, l.handleMailFeedback},
	}

	for _, s := range subs {
		handler := l.wrap(s.eventType, s.handle)
		if err := l.bus.Subscribe(ctx, []events.EventType{s.eventType}, handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.eventType, err)
		}
	}
	return nil
}

// wrap turns a (ctx, payload) handler into an events.Handler, re-marshaling
// the generic Data map back to the JSON bytes the mapper package expects,
// and classifying the returned error per the propagation policy above.
func (l *Listeners) wrap(eventType events.EventType, handle func(context.Context, []byte) error) events.Handler {
	return func(ctx context.Context, event *events.Event) error {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			l.log.Error().Err(err).Str("eventType", string(eventType)).Msg("failed to re-marshal event data, acking")
			return nil
		}

		err = handle(ctx, payload)
		if err == nil {
			return nil
		}

		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			l.log.Warn().Err(err).Str("eventType", string(eventType)).Msg("message failed validation, acking without effect")
			return nil
		}

		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeTransient {
			l.log.Warn().Err(err).Str("eventType", string(eventType)).Msg("transient failure, requeuing")
			return err
		}

		l.log.Error().Err(err).Str("eventType", string(eventType)).Msg("handler failed, acking to avoid wedging the queue")
		return nil
	}
}

func (l *Listeners) handleProgrammeMembershipUpdated(ctx context.Context, payload []byte) error {
	pm, err := mapper.ToProgrammeMembership(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyProgrammeMembership(ctx, *pm)
}

func (l *Listeners) handleProgrammeMembershipDeleted(ctx context.Context, payload []byte) error {
	tisID, err := mapper.ToDeletedTisID(payload)
	if err != nil {
		return err
	}
	return l.svc.DeleteProgrammeMembership(ctx, tisID)
}

func (l *Listeners) handlePlacementUpdated(ctx context.Context, payload []byte) error {
	pl, err := mapper.ToPlacement(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyPlacement(ctx, *pl)
}

func (l *Listeners) handlePlacementDeleted(ctx context.Context, payload []byte) error {
	tisID, err := mapper.ToDeletedTisID(payload)
	if err != nil {
		return err
	}
	return l.svc.DeletePlacement(ctx, tisID)
}

func (l *Listeners) handleLTFT(ctx context.Context, payload []byte) error {
	ltft, err := mapper.ToLTFT(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyLTFT(ctx, *ltft)
}

func (l *Listeners) handleCoj(ctx context.Context, payload []byte) error {
	c, err := mapper.ToCertificateOfJoining(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyCoj(ctx, *c)
}

func (l *Listeners) handleForm(ctx context.Context, payload []byte) error {
	f, err := mapper.ToForm(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyForm(ctx, *f)
}

func (l *Listeners) handleGMC(ctx context.Context, payload []byte) error {
	g, err := mapper.ToGMCDetails(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyGMC(ctx, *g)
}

func (l *Listeners) handleAccount(ctx context.Context, payload []byte) error {
	a, err := mapper.ToAccount(payload)
	if err != nil {
		return err
	}
	return l.svc.ApplyAccount(ctx, *a)
}

func (l *Listeners) handleMailFeedback(ctx context.Context, payload []byte) error {
	f, err := mapper.ToFeedbackEvent(payload)
	if err != nil {
		return err
	}
	historyID, err := primitive.ObjectIDFromHex(f.NotificationID)
	if err != nil {
		return domain.NewValidationError("notificationId", "notification id is not a valid history id", "INVALID")
	}

	switch f.Type {
	case "Bounce":
		return l.svc.HandleBounce(ctx, historyID, f.BounceType, f.BounceSubType)
	case "Complaint":
		return l.svc.HandleComplaint(ctx, historyID, f.ComplaintFeedback)
	default:
		return domain.NewValidationError("notificationType", "unrecognized feedback type: "+f.Type, "UNRECOGNIZED")
	}
}
