// Package outbox implements the asynchronous delivery worker: it drains a
// queue of notificationId wake-ups, and for each,
// delegates to the Notification Service to re-render (using the recorded
// version+variables) and redeliver, keeping a slow or unavailable mail
// gateway off the scheduler's synchronous fire-handler path.
package outbox

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// Resender redelivers a previously scheduled History row.
type Resender interface {
	ResendScheduled(ctx context.Context, historyID primitive.ObjectID) error
}

// Worker drains notificationId wake-ups and falls back to a periodic sweep
// of open SCHEDULED history rows, so a wake-up dropped by a process
// restart is still eventually retried.
type Worker struct {
	resender Resender
	history  domain.HistoryRepository
	log      *logger.Logger
	interval time.Duration
	catchUp  time.Duration
	wake     chan string
}

// New constructs a Worker. resender may be nil at construction time, since
// the Notification Service (the only real Resender) itself depends on the
// Worker as its ports.OutboxPublisher; call SetResender once both exist,
// before Run. catchUp bounds how far past its fire time a row may still be
// swept up for delivery; anything older belongs to the missed-schedule
// reconciliation, not the outbox.
func New(resender Resender, history domain.HistoryRepository, log *logger.Logger, interval, catchUp time.Duration) *Worker {
	return &Worker{
		resender: resender,
		history:  history,
		log:      log,
		interval: interval,
		catchUp:  catchUp,
		wake:     make(chan string, 256),
	}
}

// SetResender completes construction when the Worker had to be built
// before its Resender, mirroring the scheduler's SetHandler idiom.
func (w *Worker) SetResender(resender Resender) {
	w.resender = resender
}

// Notify implements ports.OutboxPublisher, queuing notificationID for
// immediate redelivery instead of waiting for the next sweep.
func (w *Worker) Notify(ctx context.Context, notificationID string) {
	select {
	case w.wake <- notificationID:
	default:
		w.log.Warn().Str("notificationId", notificationID).Msg("outbox wake queue full, will pick up on next sweep")
	}
}

// Run drains wake-ups and periodically sweeps open schedules until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.wake:
			w.resend(ctx, id)
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) resend(ctx context.Context, notificationID string) {
	id, err := primitive.ObjectIDFromHex(notificationID)
	if err != nil {
		w.log.Error().Err(err).Str("notificationId", notificationID).Msg("invalid notificationId in outbox wake-up")
		return
	}
	if err := w.resender.ResendScheduled(ctx, id); err != nil {
		w.log.Error().Err(err).Str("notificationId", notificationID).Msg("failed to redeliver notification")
	}
}

// sweep catches any SCHEDULED EMAIL history row left behind by a dropped
// wake-up (e.g. a restart between Fire handing off and the worker picking
// it up).
func (w *Worker) sweep(ctx context.Context) {
	open, err := w.history.FindOpenSchedules(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("outbox sweep failed to query open schedules")
		return
	}
	now := time.Now().UTC()
	for _, h := range open {
		if h.Recipient.Channel != domain.ChannelEmail {
			continue
		}
		if h.SentAt.After(now) {
			continue // not due yet
		}
		if now.Sub(h.SentAt) > w.catchUp {
			continue // past the catch-up window; the missed-schedule sweep owns it
		}
		w.resend(ctx, h.ID.Hex())
	}
}
