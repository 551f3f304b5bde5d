// Package usecase implements the notification orchestration core: the
// eight-step apply-entity algorithm that takes a triggering entity,
// decides whether a notification is warranted, renders it, and either
// sends it immediately or schedules it for later delivery.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// firePayload is what a scheduled job's payload carries across a process
// restart: everything the fire handler needs to re-resolve and render,
// without re-running the entity service.
type firePayload struct {
	HistoryID string                 `json:"historyId"`
	Variables map[string]interface{} `json:"variables"`
}

// NotificationService is the orchestration core. Entity-specific
// eligibility and timing logic lives behind the pure domain-entity
// services in this package; this type handles everything common to every
// trigger: normalization, deduplication, stale-cleanup, suppression, and
// the schedule-or-send decision.
type NotificationService struct {
	history   domain.HistoryRepository
	schedules domain.ScheduleRepository
	scheduler ports.Scheduler
	template  ports.TemplateRenderer
	directory ports.UserDirectory
	messaging ports.MessagingController
	mail      ports.MailGateway
	publisher ports.EventPublisher
	outbox    ports.OutboxPublisher
	clock     ports.Clock
	log       *logger.Logger

	loc           *time.Location
	delay         time.Duration
	catchUpWindow time.Duration

	programme *ProgrammeMembershipService
	placement *PlacementService
	ltft      *LTFTService
	coj       *CojService
	form      *FormService
	gmc       *GMCService
	account   *AccountService
}

// NewNotificationService wires the orchestration core to its ports.
func NewNotificationService(
	history domain.HistoryRepository,
	schedules domain.ScheduleRepository,
	scheduler ports.Scheduler,
	template ports.TemplateRenderer,
	directory ports.UserDirectory,
	messaging ports.MessagingController,
	mail ports.MailGateway,
	publisher ports.EventPublisher,
	outbox ports.OutboxPublisher,
	clock ports.Clock,
	log *logger.Logger,
	loc *time.Location,
	delay time.Duration,
	catchUpWindow time.Duration,
) *NotificationService {
	return &NotificationService{
		history:       history,
		schedules:     schedules,
		scheduler:     scheduler,
		template:      template,
		directory:     directory,
		messaging:     messaging,
		mail:          mail,
		publisher:     publisher,
		outbox:        outbox,
		clock:         clock,
		log:           log,
		loc:           loc,
		delay:         delay,
		catchUpWindow: catchUpWindow,
		programme:     NewProgrammeMembershipService(),
		placement:     NewPlacementService(),
		ltft:          NewLTFTService(),
		coj:           NewCojService(),
		form:          NewFormService(),
		gmc:           NewGMCService(),
		account:       NewAccountService(),
	}
}

// candidateNotificationTypes lists every notification type a TIS entity
// family can ever produce, used by stale-cleanup to know which jobs to
// look for even when the current plan excludes all of them.
func candidateNotificationTypes(refType domain.TisReferenceType) []domain.NotificationType {
	switch refType {
	case domain.TisReferenceProgrammeMembership:
		return []domain.NotificationType{
			domain.NotificationTypeProgrammeUpdatedWeek8,
			domain.NotificationTypeProgrammeUpdatedWeek4,
			domain.NotificationTypeProgrammeUpdatedWeek0,
		}
	case domain.TisReferencePlacement:
		return []domain.NotificationType{domain.NotificationTypePlacementUpdatedWeek12}
	case domain.TisReferenceLTFT:
		return []domain.NotificationType{domain.NotificationTypeLtftUpdated}
	case domain.TisReferenceCoJ:
		return []domain.NotificationType{domain.NotificationTypeCojConfirmed}
	case domain.TisReferenceForm:
		return []domain.NotificationType{domain.NotificationTypeFormUpdated}
	case domain.TisReferenceGMC:
		return []domain.NotificationType{domain.NotificationTypeGmcUpdated}
	case domain.TisReferenceAccount:
		return []domain.NotificationType{domain.NotificationTypeAccountCreated}
	default:
		return nil
	}
}

// permitsMissedDelivery reports whether a notification type should still
// fire, as an immediate send, when its computed fireAt is already in the
// past by more than the catch-up window. Every type in this system does;
// the distinction is retained because the milestone computation treats it
// as a per-type policy, and a future milestone that should instead be
// dropped when badly overdue can flip this without touching the rest of
// the algorithm.
func permitsMissedDelivery(domain.NotificationType) bool { return true }

// ApplyProgrammeMembership runs apply-entity for a programme membership
// create/update.
func (s *NotificationService) ApplyProgrammeMembership(ctx context.Context, pm domain.ProgrammeMembership) error {
	ref := domain.TisReference{Type: domain.TisReferenceProgrammeMembership, ID: pm.ID}
	excluded := s.programme.IsExcluded(pm, startOfDayIn(s.clock.Now(), s.loc))

	var plans []MilestonePlan
	if !excluded {
		plans = s.programme.Plan(pm, s.loc)
		s.attachLocalOffice(ctx, plans, pm.Owner)
	}
	return s.applyEntity(ctx, pm.PersonID, ref, plans, s.pilotGate(ref, pm.PersonID))
}

// ApplyPlacement runs apply-entity for a placement create/update.
func (s *NotificationService) ApplyPlacement(ctx context.Context, pl domain.Placement) error {
	ref := domain.TisReference{Type: domain.TisReferencePlacement, ID: pl.ID}
	excluded := s.placement.IsExcluded(pl, startOfDayIn(s.clock.Now(), s.loc))

	var plans []MilestonePlan
	if !excluded {
		plans = s.placement.Plan(pl, s.loc)
		s.attachLocalOffice(ctx, plans, pl.Owner)
	}
	return s.applyEntity(ctx, pl.PersonID, ref, plans, s.pilotGate(ref, pl.PersonID))
}

// ApplyLTFT runs apply-entity for an LTFT status transition.
func (s *NotificationService) ApplyLTFT(ctx context.Context, l domain.LTFT) error {
	ref := domain.TisReference{Type: domain.TisReferenceLTFT, ID: l.ID}
	var plans []MilestonePlan
	if !s.ltft.IsExcluded(l) {
		plans = s.ltft.Plan(l)
	}
	return s.applyEntity(ctx, l.PersonID, ref, plans, nil)
}

// ApplyCoj runs apply-entity for a confirmed certificate of joining.
func (s *NotificationService) ApplyCoj(ctx context.Context, c domain.CertificateOfJoining) error {
	ref := domain.TisReference{Type: domain.TisReferenceCoJ, ID: c.ID}
	var plans []MilestonePlan
	if !s.coj.IsExcluded(c) {
		plans = s.coj.Plan(c)
	}
	return s.applyEntity(ctx, c.PersonID, ref, plans, nil)
}

// ApplyForm runs apply-entity for a Form R lifecycle update.
func (s *NotificationService) ApplyForm(ctx context.Context, f domain.Form) error {
	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: f.ID}
	var plans []MilestonePlan
	if !s.form.IsExcluded(f) {
		plans = s.form.Plan(f)
	}
	return s.applyEntity(ctx, f.PersonID, ref, plans, nil)
}

// ApplyGMC runs apply-entity for a GMC registration detail change.
func (s *NotificationService) ApplyGMC(ctx context.Context, g domain.GMCDetails) error {
	ref := domain.TisReference{Type: domain.TisReferenceGMC, ID: g.ID}
	var plans []MilestonePlan
	if !s.gmc.IsExcluded(g) {
		plans = s.gmc.Plan(g)
	}
	return s.applyEntity(ctx, g.PersonID, ref, plans, nil)
}

// ApplyAccount runs apply-entity for a newly created self-service account.
func (s *NotificationService) ApplyAccount(ctx context.Context, a domain.Account) error {
	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: a.ID}
	var plans []MilestonePlan
	if !s.account.IsExcluded(a) {
		plans = s.account.Plan(a)
	}
	return s.applyEntity(ctx, a.PersonID, ref, plans, nil)
}

// DeleteProgrammeMembership runs stale-cleanup for every milestone of a
// deleted programme membership; it never plans anything.
func (s *NotificationService) DeleteProgrammeMembership(ctx context.Context, tisID string) error {
	return s.applyEntity(ctx, "", domain.TisReference{Type: domain.TisReferenceProgrammeMembership, ID: tisID}, nil, nil)
}

// DeletePlacement runs stale-cleanup for a deleted placement.
func (s *NotificationService) DeletePlacement(ctx context.Context, tisID string) error {
	return s.applyEntity(ctx, "", domain.TisReference{Type: domain.TisReferencePlacement, ID: tisID}, nil, nil)
}

// DeleteHistoryForTrainee implements the History Store's
// deleteByIdAndPerson: it broadcasts a synthetic DELETED record (empty
// body, sentAt=now) before the row is actually removed, so downstream
// subscribers see the deletion even though the row itself won't be
// queryable afterwards. Returns domain.ErrHistoryNotFound if id is not
// owned by personID.
func (s *NotificationService) DeleteHistoryForTrainee(ctx context.Context, id primitive.ObjectID, personID string) error {
	h, err := s.history.FindByIDAndPerson(ctx, id, personID)
	if err != nil {
		return fmt.Errorf("find history %s for trainee: %w", id.Hex(), err)
	}
	if h == nil {
		return domain.ErrHistoryNotFound
	}

	synthetic := *h
	synthetic.TemplateInfo = domain.Template{}
	if err := synthetic.Delete(); err != nil {
		return err
	}
	synthetic.SentAt = time.Now().UTC()
	if err := s.broadcast(ctx, &synthetic); err != nil {
		return err
	}

	return s.history.DeleteByIDAndPerson(ctx, id, personID)
}

// attachLocalOffice resolves the managing local office's contact through the
// Messaging Controller's backing reference service and attaches it to every
// plan's template variables as flat strings. Flat strings, not the contact
// struct: schedule payloads round-trip variables through JSON, and a struct
// would come back as a map keyed by its JSON tags. Failures fall back to
// the configured support contact.
func (s *NotificationService) attachLocalOffice(ctx context.Context, plans []MilestonePlan, owner string) {
	contact, err := s.messaging.ResolveLocalOfficeContact(ctx, owner)
	if err != nil || contact == nil {
		contact = &domain.LocalOfficeContact{
			Type:         owner,
			ContactValue: domain.FallbackSupportContact,
			ContactHref:  domain.ContactHrefNonHref,
		}
	}
	for i := range plans {
		plans[i].Variables["LocalOfficeContact"] = contact.ContactValue
		plans[i].Variables["LocalOfficeContactHref"] = string(contact.ContactHref)
	}
}

// pilotGate returns a predicate gating a notification type's suppression
// step on pilot-rollout/new-starter checks, for the families the 2024
// pilot rollout applies to. Programme and placement milestones are
// restricted to pilot participants; WEEK_0 additionally requires the
// trainee to be a genuine new starter rather than an existing trainee
// moving between programmes.
func (s *NotificationService) pilotGate(ref domain.TisReference, personID string) func(context.Context, domain.NotificationType) bool {
	switch ref.Type {
	case domain.TisReferenceProgrammeMembership:
		return func(ctx context.Context, t domain.NotificationType) bool {
			inPilot, err := s.messaging.IsProgrammeMembershipInPilot2024(ctx, personID, ref.ID)
			if err != nil || !inPilot {
				return false
			}
			if t == domain.NotificationTypeProgrammeUpdatedWeek0 {
				newStarter, err := s.messaging.IsProgrammeMembershipNewStarter(ctx, personID, ref.ID)
				return err == nil && newStarter
			}
			return true
		}
	case domain.TisReferencePlacement:
		return func(ctx context.Context, _ domain.NotificationType) bool {
			inPilot, err := s.messaging.IsPlacementInPilot2024(ctx, personID, ref.ID)
			return err == nil && inPilot
		}
	default:
		return nil
	}
}

// applyEntity implements the apply-entity algorithm, steps 3-8 (steps 1
// normalization and 2 eligibility are the caller's responsibility, since
// they are entity-family specific). extraGate, when non-nil, is consulted
// alongside the Messaging Controller in the suppression step.
func (s *NotificationService) applyEntity(ctx context.Context, personID string, ref domain.TisReference, plans []MilestonePlan, extraGate func(context.Context, domain.NotificationType) bool) error {
	now := s.clock.Now()
	live := make(map[domain.NotificationType]MilestonePlan, len(plans))
	for _, p := range plans {
		live[p.NotificationType] = p
	}

	for _, notifType := range candidateNotificationTypes(ref.Type) {
		jobID := domain.JobID(notifType, ref.ID)
		plan, isLive := live[notifType]

		// Step 5: deduplicate against an already SENT or terminal row.
		existing, err := s.history.FindTerminalOrSent(ctx, personID, ref, notifType)
		if err != nil {
			return fmt.Errorf("dedup check %s: %w", jobID, err)
		}
		if existing != nil || !isLive {
			// Step 6: stale-cleanup. Nothing to plan for this type: either
			// it is excluded/deleted, or it has already been delivered and
			// any leftover SCHEDULED duplicate must be reclaimed.
			if err := s.staleCleanup(ctx, jobID, personID, ref, notifType); err != nil {
				return err
			}
			continue
		}

		// Step 3 (missed-fire policy): a milestone due in the past beyond
		// the catch-up window either fires now or is dropped.
		fireAt := plan.FireAt
		if !fireAt.IsZero() && fireAt.Before(now.Add(-s.catchUpWindow)) && !permitsMissedDelivery(notifType) {
			if err := s.staleCleanup(ctx, jobID, personID, ref, notifType); err != nil {
				return err
			}
			continue
		}

		// Step 4: per-channel fan-out.
		for _, channel := range ChannelsFor(notifType) {
			if err := s.applyChannel(ctx, personID, ref, notifType, channel, fireAt, plan.Variables, extraGate); err != nil {
				return err
			}
		}
	}
	return nil
}

// staleCleanup implements step 6 of apply-entity: remove the scheduler
// entry for jobID if one exists, and transition any still-SCHEDULED
// History row for it to DELETED, broadcasting the change.
func (s *NotificationService) staleCleanup(ctx context.Context, jobID, personID string, ref domain.TisReference, notifType domain.NotificationType) error {
	if err := s.scheduler.Remove(ctx, jobID); err != nil {
		return fmt.Errorf("remove stale schedule %s: %w", jobID, err)
	}
	if err := s.schedules.DeleteByJobID(ctx, jobID); err != nil {
		return fmt.Errorf("delete stale schedule entry %s: %w", jobID, err)
	}
	if personID == "" {
		return nil
	}
	h, err := s.history.FindScheduledForTrainee(ctx, personID, ref, notifType)
	if err != nil {
		return fmt.Errorf("find stale history %s: %w", jobID, err)
	}
	if h == nil {
		return nil
	}
	if err := h.Delete(); err != nil {
		return err
	}
	if err := s.history.Save(ctx, h); err != nil {
		return err
	}
	return s.broadcast(ctx, h)
}

// applyChannel implements steps 7 (suppression) and 8 (schedule or send)
// for one notification type/channel pair.
func (s *NotificationService) applyChannel(ctx context.Context, personID string, ref domain.TisReference, notifType domain.NotificationType, channel domain.Channel, fireAt time.Time, vars map[string]interface{}, extraGate func(context.Context, domain.NotificationType) bool) error {
	if fireAt.IsZero() {
		fireAt = s.clock.Now().Add(s.delay)
	}
	h, err := domain.NewHistory(personID, ref, notifType, channel, fireAt)
	if err != nil {
		return fmt.Errorf("create history record: %w", err)
	}
	h.TemplateInfo = domain.Template{Name: notifType.TemplateName(), Variables: vars}

	// Step 7: suppression.
	permitted := s.messaging.IsValidRecipient(ctx, personID, channel)
	if permitted && extraGate != nil {
		permitted = extraGate(ctx, notifType)
	}
	if !permitted {
		_ = h.MarkFailed("suppressed")
		if err := s.history.Save(ctx, h); err != nil {
			return err
		}
		return s.broadcast(ctx, h)
	}

	// Step 8: schedule, or send immediately.
	if fireAt.After(s.clock.Now().Add(epsilon)) {
		return s.scheduleFor(ctx, h, fireAt)
	}
	return s.sendNow(ctx, h)
}

const epsilon = 2 * time.Second

// scheduleFor persists a SCHEDULED History row and arms the scheduler for
// it.
func (s *NotificationService) scheduleFor(ctx context.Context, h *domain.History, fireAt time.Time) error {
	h.SentAt = fireAt
	if err := s.history.Save(ctx, h); err != nil {
		return err
	}

	payload, err := json.Marshal(firePayload{HistoryID: h.ID.Hex(), Variables: h.TemplateInfo.Variables})
	if err != nil {
		return fmt.Errorf("encode schedule payload: %w", err)
	}

	jobID := h.JobID()
	entry := domain.NewScheduleEntry(jobID, fireAt, s.catchUpWindow, string(payload))
	entry.HistoryID = h.ID.Hex()
	if err := s.schedules.Save(ctx, entry); err != nil {
		return err
	}
	return s.scheduler.Schedule(ctx, jobID, fireAt, s.catchUpWindow, payload)
}

// sendNow resolves contact details, renders the content, delivers it, and
// persists the terminal outcome. It is used both for an immediate
// apply-entity plan and for SendImmediate.
func (s *NotificationService) sendNow(ctx context.Context, h *domain.History) error {
	contact, err := s.resolveContact(ctx, h)
	if err != nil {
		_ = h.MarkFailed(fmt.Sprintf("contact resolution failed: %v", err))
		if saveErr := s.history.Save(ctx, h); saveErr != nil {
			return saveErr
		}
		return s.broadcast(ctx, h)
	}
	if h.Recipient.Channel == domain.ChannelEmail {
		h.Recipient.Contact = contact.Email
	}

	vars := withContact(h.TemplateInfo.Variables, contact)
	subject, content, templateVersion, err := s.template.Render(ctx, h.NotificationType, h.Recipient.Channel, vars)
	if err != nil {
		_ = h.MarkFailed(err.Error())
		if saveErr := s.history.Save(ctx, h); saveErr != nil {
			return saveErr
		}
		return s.broadcast(ctx, h)
	}
	h.TemplateInfo.Version = templateVersion
	h.TemplateInfo.Variables = vars

	if h.Recipient.Channel == domain.ChannelEmail {
		if err := s.history.Save(ctx, h); err != nil {
			return err
		}
		if _, err := s.mail.SendEmail(ctx, h.ID.Hex(), contact.Email, subject, content); err != nil {
			_ = h.MarkFailed(err.Error())
			if saveErr := s.history.Save(ctx, h); saveErr != nil {
				return saveErr
			}
			return s.broadcast(ctx, h)
		}
		if err := h.MarkSent(); err != nil {
			return err
		}
		if err := s.history.Save(ctx, h); err != nil {
			return err
		}
		return s.broadcast(ctx, h)
	}

	if err := h.MarkUnreadDelivered(); err != nil {
		return err
	}
	if err := s.history.Save(ctx, h); err != nil {
		return err
	}
	return s.broadcast(ctx, h)
}

// DropExpired is the scheduler's dropped-handler: invoked instead of
// Fire when a missed fire has no grace window to catch up within. It
// records the FAILED audit entry without attempting delivery.
func (s *NotificationService) DropExpired(ctx context.Context, jobID string, payload []byte) error {
	var fp firePayload
	if err := json.Unmarshal(payload, &fp); err != nil {
		return fmt.Errorf("decode schedule payload: %w", err)
	}
	id, err := primitive.ObjectIDFromHex(fp.HistoryID)
	if err != nil {
		return fmt.Errorf("invalid history id in schedule payload: %w", err)
	}
	h, err := s.history.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("find history %s: %w", fp.HistoryID, err)
	}
	if h == nil || !h.IsScheduled() {
		return nil
	}
	if err := h.MarkFailed("missed fire dropped: no grace window"); err != nil {
		return err
	}
	if err := s.history.Save(ctx, h); err != nil {
		return err
	}
	return s.broadcast(ctx, h)
}

// resolveContact resolves the recipient's contact details through the user
// directory. When the person-id lookup fails but the triggering event
// itself carried an email address (an account confirmation fires before
// the directory's bulk scan has seen the new account), the address from
// the event resolves the directory user instead.
func (s *NotificationService) resolveContact(ctx context.Context, h *domain.History) (*ports.TraineeContactDetails, error) {
	contact, err := s.directory.Lookup(ctx, h.Recipient.PersonID)
	if err == nil {
		return contact, nil
	}

	email, ok := h.TemplateInfo.Variables["Email"].(string)
	if !ok || email == "" {
		return nil, err
	}
	details, emailErr := s.directory.GetUserDetailsByEmail(ctx, email)
	if emailErr != nil {
		return nil, err
	}
	return &ports.TraineeContactDetails{
		TraineeID:  h.Recipient.PersonID,
		Email:      details.Email,
		GivenName:  details.GivenName,
		FamilyName: details.FamilyName,
	}, nil
}

func withContact(vars map[string]interface{}, contact *ports.TraineeContactDetails) map[string]interface{} {
	out := make(map[string]interface{}, len(vars)+2)
	for k, v := range vars {
		out[k] = v
	}
	out["GivenName"] = contact.GivenName
	out["FamilyName"] = contact.FamilyName
	return out
}

// SendImmediate bypasses scheduling entirely: the notification is
// resolved, rendered, and delivered in one pass.
func (s *NotificationService) SendImmediate(ctx context.Context, personID string, notifType domain.NotificationType, ref domain.TisReference, channel domain.Channel, vars map[string]interface{}) error {
	h, err := domain.NewHistory(personID, ref, notifType, channel, time.Time{})
	if err != nil {
		return err
	}
	h.TemplateInfo = domain.Template{Name: notifType.TemplateName(), Variables: vars}
	return s.sendNow(ctx, h)
}

// ResendScheduled re-renders and redelivers a previously scheduled
// History row, used by the outbox worker.
func (s *NotificationService) ResendScheduled(ctx context.Context, historyID primitive.ObjectID) error {
	h, err := s.history.FindByID(ctx, historyID)
	if err != nil {
		return fmt.Errorf("find history %s: %w", historyID.Hex(), err)
	}
	if h == nil {
		return domain.ErrHistoryNotFound
	}
	return s.sendNow(ctx, h)
}

// Fire is the Scheduler's fire handler: invoked at-least-once
// when a scheduled job's time arrives. The History row's SCHEDULED->SENT
// (or ->UNREAD) transition is the idempotency guard against a duplicate
// fire; a job that finds its History already actioned just acks.
func (s *NotificationService) Fire(ctx context.Context, jobID string, payload []byte) error {
	var fp firePayload
	if err := json.Unmarshal(payload, &fp); err != nil {
		return fmt.Errorf("decode schedule payload: %w", err)
	}
	id, err := primitive.ObjectIDFromHex(fp.HistoryID)
	if err != nil {
		return fmt.Errorf("invalid history id in schedule payload: %w", err)
	}
	h, err := s.history.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("find history %s: %w", fp.HistoryID, err)
	}
	if h == nil {
		return domain.ErrOrphanSchedule
	}
	if !h.IsScheduled() {
		s.log.Info().Str("jobId", jobID).Msg("schedule fired for already-actioned history, acking")
		return nil
	}
	h.TemplateInfo.Variables = fp.Variables

	if h.Recipient.Channel == domain.ChannelEmail {
		// EMAIL is handed off to the outbox rather than
		// submitting synchronously: the outbox worker re-renders and
		// delivers it, transitioning SCHEDULED->SENT on acceptance. This
		// keeps a slow/unavailable mail gateway off the scheduler's
		// fire-handler timeout.
		s.outbox.Notify(ctx, h.ID.Hex())
		return nil
	}
	return s.sendNow(ctx, h)
}

// SweepOrphanedSchedules reconciles open SCHEDULED History rows against the
// scheduler's pending entries. A row whose schedule entry vanished (a crash
// between the history write and the schedule insert, or a lost timer) is
// re-armed if its fire time is still ahead, replayed immediately while it
// is within the catch-up window, and otherwise transitioned to FAILED with
// a "Missed Schedule" audit detail so it is never silently dropped.
func (s *NotificationService) SweepOrphanedSchedules(ctx context.Context) error {
	open, err := s.history.FindOpenSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list open schedules: %w", err)
	}
	pendingIDs, err := s.scheduler.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending schedule entries: %w", err)
	}
	pending := make(map[string]bool, len(pendingIDs))
	for _, id := range pendingIDs {
		pending[id] = true
	}

	now := s.clock.Now()
	for _, h := range open {
		if pending[h.JobID()] {
			continue
		}
		switch {
		case h.SentAt.After(now):
			if err := s.scheduleFor(ctx, h, h.SentAt); err != nil {
				return err
			}
		case now.Sub(h.SentAt) <= s.catchUpWindow:
			if h.Recipient.Channel == domain.ChannelEmail {
				s.outbox.Notify(ctx, h.ID.Hex())
			} else if err := s.sendNow(ctx, h); err != nil {
				return err
			}
		default:
			s.log.Warn().Str("jobId", h.JobID()).Time("fireAt", h.SentAt).Msg("orphaned schedule past catch-up window, failing")
			if err := h.MarkFailed("Missed Schedule"); err != nil {
				continue
			}
			if err := s.history.Save(ctx, h); err != nil {
				return err
			}
			if err := s.broadcast(ctx, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateStatusForTrainee transitions a trainee-owned History row (the
// mark-read/mark-unread/archive operations of the trainee-facing API) and
// broadcasts the mutation. Returns nil, nil when id is not owned by
// personID.
func (s *NotificationService) UpdateStatusForTrainee(ctx context.Context, id primitive.ObjectID, personID string, status domain.Status) (*domain.History, error) {
	owned, err := s.history.FindByIDAndPerson(ctx, id, personID)
	if err != nil {
		return nil, fmt.Errorf("find history %s for trainee: %w", id.Hex(), err)
	}
	if owned == nil {
		return nil, nil
	}
	updated, err := s.history.UpdateStatus(ctx, id, status, "")
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}
	if err := s.broadcast(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// HandleBounce transitions a SENT history row to FAILED on a mail
// provider's bounce notification.
func (s *NotificationService) HandleBounce(ctx context.Context, historyID primitive.ObjectID, bounceType, subType string) error {
	return s.handleFeedback(ctx, historyID, fmt.Sprintf("Bounce: %s - %s", bounceType, subType))
}

// HandleComplaint transitions a SENT history row to FAILED on a mail
// provider's complaint notification.
func (s *NotificationService) HandleComplaint(ctx context.Context, historyID primitive.ObjectID, feedback string) error {
	if feedback == "" {
		feedback = "Undetermined"
	}
	return s.handleFeedback(ctx, historyID, fmt.Sprintf("Complaint: %s", feedback))
}

func (s *NotificationService) handleFeedback(ctx context.Context, historyID primitive.ObjectID, reason string) error {
	h, err := s.history.FindByID(ctx, historyID)
	if err != nil {
		return fmt.Errorf("find history %s: %w", historyID.Hex(), err)
	}
	if h == nil {
		s.log.Warn().Str("historyId", historyID.Hex()).Msg("feedback for unknown history, ignoring")
		return nil
	}
	if err := h.MarkFailed(reason); err != nil {
		// Already terminal (e.g. a duplicate feedback delivery); not an error.
		return nil
	}
	if err := s.history.Save(ctx, h); err != nil {
		return err
	}
	return s.broadcast(ctx, h)
}

func (s *NotificationService) broadcast(ctx context.Context, h *domain.History) error {
	h.ClearDomainEvents()
	if err := s.publisher.Publish(ctx, h); err != nil {
		s.log.Warn().Err(err).Str("historyId", h.ID.Hex()).Msg("broadcast publish failed")
	}
	return nil
}
