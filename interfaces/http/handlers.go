// Package http implements the trainee-facing read API: a trainee can list
// their own notification history, re-render a past message's content, mark
// entries read/unread/archived, and delete an entry from their own inbox.
// Every route trusts the identity the TraineeAuth middleware already
// extracted; handlers never see or parse a token themselves.
package http

import (
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/application/usecase"
	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
	"github.com/tis-trainee/notifications/pkg/middleware"
	"github.com/tis-trainee/notifications/pkg/response"
)

// Server serves the trainee history API.
type Server struct {
	history  domain.HistoryRepository
	template ports.TemplateRenderer
	svc      *usecase.NotificationService
	log      *logger.Logger
}

// New constructs a Server.
func New(history domain.HistoryRepository, template ports.TemplateRenderer, svc *usecase.NotificationService, log *logger.Logger) *Server {
	return &Server{history: history, template: template, svc: svc, log: log}
}

// Routes registers the trainee history API on mux, under prefix
// "/api/history/trainee".
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history/trainee", s.listHistory)
	mux.HandleFunc("GET /api/history/trainee/message/{id}", s.getMessage)
	mux.HandleFunc("PUT /api/history/trainee/notification/{id}/mark-read", s.markRead)
	mux.HandleFunc("PUT /api/history/trainee/notification/{id}/mark-unread", s.markUnread)
	mux.HandleFunc("PUT /api/history/trainee/notification/{id}/archive", s.archive)
	mux.HandleFunc("DELETE /api/history/trainee/notification/{id}", s.deleteNotification)
}

// historySummary is the list-view projection of a History row: enough to
// render an inbox without fetching each message's full rendered content.
type historySummary struct {
	ID               string    `json:"id"`
	Channel          string    `json:"channel"`
	NotificationType string    `json:"notificationType"`
	Contact          string    `json:"contact,omitempty"`
	SentAt           time.Time `json:"sentAt"`
	Status           string    `json:"status"`
	SubjectText      string    `json:"subjectText,omitempty"`
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	personID := middleware.TraineeIDFromContext(r.Context())
	if personID == "" {
		response.BadRequest(w, "token lacks a trainee id")
		return
	}

	rows, err := s.history.FindAllByPersonOrderBySentAtDesc(r.Context(), personID)
	if err != nil {
		s.log.Error().Err(err).Str("personId", personID).Msg("failed to list history")
		response.InternalError(w, "failed to list notification history")
		return
	}

	out := make([]historySummary, 0, len(rows))
	for _, h := range rows {
		out = append(out, historySummary{
			ID:               h.ID.Hex(),
			Channel:          h.Recipient.Channel.String(),
			NotificationType: h.NotificationType.String(),
			Contact:          h.Recipient.Contact,
			SentAt:           h.SentAt,
			Status:           h.Status.String(),
		})
	}
	response.OK(w, out)
}

func (s *Server) findOwned(w http.ResponseWriter, r *http.Request) (*domain.History, bool) {
	personID := middleware.TraineeIDFromContext(r.Context())
	if personID == "" {
		response.BadRequest(w, "token lacks a trainee id")
		return nil, false
	}

	id, err := primitive.ObjectIDFromHex(r.PathValue("id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return nil, false
	}

	h, err := s.history.FindByIDAndPerson(r.Context(), id, personID)
	if err != nil {
		s.log.Error().Err(err).Str("personId", personID).Msg("failed to look up history entry")
		response.InternalError(w, "failed to look up notification")
		return nil, false
	}
	if h == nil {
		response.NotFound(w, "notification")
		return nil, false
	}
	return h, true
}

// getMessage re-renders the stored content for a notification so the
// trainee can view the message they were sent (or would have been sent, for
// an in-app delivery recorded straight to UNREAD).
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	h, ok := s.findOwned(w, r)
	if !ok {
		return
	}

	_, content, _, err := s.template.Render(r.Context(), h.NotificationType, h.Recipient.Channel, h.TemplateInfo.Variables)
	if err != nil {
		s.log.Error().Err(err).Str("historyId", h.ID.Hex()).Msg("failed to re-render message")
		response.InternalError(w, "failed to render message")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, target domain.Status) {
	personID := middleware.TraineeIDFromContext(r.Context())
	if personID == "" {
		response.BadRequest(w, "token lacks a trainee id")
		return
	}
	id, err := primitive.ObjectIDFromHex(r.PathValue("id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	// The service confirms ownership before mutating, and broadcasts the
	// transition; UpdateStatus itself is not recipient-scoped.
	updated, err := s.svc.UpdateStatusForTrainee(r.Context(), id, personID, target)
	if err != nil {
		s.log.Error().Err(err).Str("historyId", id.Hex()).Msg("failed to update notification status")
		response.InternalError(w, "failed to update notification")
		return
	}
	if updated == nil {
		response.NotFound(w, "notification")
		return
	}
	response.OK(w, historySummary{
		ID:               updated.ID.Hex(),
		Channel:          updated.Recipient.Channel.String(),
		NotificationType: updated.NotificationType.String(),
		Contact:          updated.Recipient.Contact,
		SentAt:           updated.SentAt,
		Status:           updated.Status.String(),
	})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, domain.StatusRead)
}

func (s *Server) markUnread(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, domain.StatusUnread)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, domain.StatusArchived)
}

// deleteNotification implements the History Store's deleteByIdAndPerson: a
// synthetic DELETED broadcast is emitted before the row is actually
// removed.
func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	personID := middleware.TraineeIDFromContext(r.Context())
	if personID == "" {
		response.BadRequest(w, "token lacks a trainee id")
		return
	}
	id, err := primitive.ObjectIDFromHex(r.PathValue("id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := s.svc.DeleteHistoryForTrainee(r.Context(), id, personID); err != nil {
		if err == domain.ErrHistoryNotFound {
			response.NotFound(w, "notification")
			return
		}
		s.log.Error().Err(err).Str("historyId", id.Hex()).Msg("failed to delete notification")
		response.InternalError(w, "failed to delete notification")
		return
	}
	response.NoContent(w)
}
