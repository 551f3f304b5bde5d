package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// ============================================================================
// Fakes: in-memory adapters for every port the orchestration core depends
// on, just enough behavior to exercise the orchestration contract.
// ============================================================================

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeHistoryRepo struct {
	rows map[primitive.ObjectID]*domain.History
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{rows: make(map[primitive.ObjectID]*domain.History)}
}

func (r *fakeHistoryRepo) Save(_ context.Context, h *domain.History) error {
	cp := *h
	r.rows[h.ID] = &cp
	return nil
}

func (r *fakeHistoryRepo) FindByID(_ context.Context, id primitive.ObjectID) (*domain.History, error) {
	h, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (r *fakeHistoryRepo) FindAllByPersonOrderBySentAtDesc(_ context.Context, personID string) ([]*domain.History, error) {
	var out []*domain.History
	for _, h := range r.rows {
		if h.Recipient.PersonID == personID && h.Status != domain.StatusDeleted {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (r *fakeHistoryRepo) FindByIDAndPerson(_ context.Context, id primitive.ObjectID, personID string) (*domain.History, error) {
	h, ok := r.rows[id]
	if !ok || h.Recipient.PersonID != personID {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (r *fakeHistoryRepo) FindScheduledForTrainee(_ context.Context, personID string, ref domain.TisReference, notifType domain.NotificationType) (*domain.History, error) {
	for _, h := range r.rows {
		if h.Recipient.PersonID == personID && h.TisReference == ref && h.NotificationType == notifType && h.Status == domain.StatusScheduled {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeHistoryRepo) FindTerminalOrSent(_ context.Context, personID string, ref domain.TisReference, notifType domain.NotificationType) (*domain.History, error) {
	for _, h := range r.rows {
		if h.Recipient.PersonID == personID && h.TisReference == ref && h.NotificationType == notifType && h.IsTerminalOrSent() {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeHistoryRepo) UpdateStatus(_ context.Context, id primitive.ObjectID, status domain.Status, detail string) (*domain.History, error) {
	h, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	h.Status = status
	h.StatusDetail = detail
	if status == domain.StatusRead {
		now := time.Now().UTC()
		h.ReadAt = &now
	}
	cp := *h
	return &cp, nil
}

func (r *fakeHistoryRepo) DeleteByIDAndPerson(_ context.Context, id primitive.ObjectID, personID string) error {
	h, ok := r.rows[id]
	if !ok || h.Recipient.PersonID != personID {
		return domain.ErrHistoryNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeHistoryRepo) FindOpenSchedules(_ context.Context) ([]*domain.History, error) {
	var out []*domain.History
	for _, h := range r.rows {
		if h.Status == domain.StatusScheduled {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) countByJob(jobID string) int {
	n := 0
	for _, h := range r.rows {
		if h.JobID() == jobID {
			n++
		}
	}
	return n
}

type fakeScheduleRepo struct {
	entries map[string]*domain.ScheduleEntry
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{entries: make(map[string]*domain.ScheduleEntry)}
}

func (r *fakeScheduleRepo) Save(_ context.Context, s *domain.ScheduleEntry) error {
	cp := *s
	r.entries[s.JobID] = &cp
	return nil
}

func (r *fakeScheduleRepo) FindByJobID(_ context.Context, jobID string) (*domain.ScheduleEntry, error) {
	s, ok := r.entries[jobID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeScheduleRepo) DeleteByJobID(_ context.Context, jobID string) error {
	delete(r.entries, jobID)
	return nil
}

func (r *fakeScheduleRepo) ListPending(_ context.Context) ([]*domain.ScheduleEntry, error) {
	var out []*domain.ScheduleEntry
	for _, s := range r.entries {
		if s.State == domain.ScheduleStatePending {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) FindDue(_ context.Context, now time.Time) ([]*domain.ScheduleEntry, error) {
	var out []*domain.ScheduleEntry
	for _, s := range r.entries {
		if s.IsDue(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) FindStaleFiring(_ context.Context, olderThan time.Time) ([]*domain.ScheduleEntry, error) {
	return nil, nil
}

type fakeScheduler struct {
	pending map[string]time.Time
	removed []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: make(map[string]time.Time)}
}

func (s *fakeScheduler) Schedule(_ context.Context, jobID string, fireAt time.Time, window time.Duration, payload []byte) error {
	s.pending[jobID] = fireAt
	return nil
}

func (s *fakeScheduler) Remove(_ context.Context, jobID string) error {
	delete(s.pending, jobID)
	s.removed = append(s.removed, jobID)
	return nil
}

func (s *fakeScheduler) ListPending(_ context.Context) ([]string, error) {
	var out []string
	for id := range s.pending {
		out = append(out, id)
	}
	return out, nil
}

type fakeTemplateRenderer struct{ err error }

func (r *fakeTemplateRenderer) Render(_ context.Context, notifType domain.NotificationType, channel domain.Channel, vars map[string]interface{}) (string, string, string, error) {
	if r.err != nil {
		return "", "", "", r.err
	}
	return fmt.Sprintf("Subject: %s", notifType), "<p>body</p>", "v1", nil
}

type fakeUserDirectory struct {
	contacts map[string]*ports.TraineeContactDetails
	byEmail  map[string]*ports.UserDetails
	err      error
}

func (d *fakeUserDirectory) Lookup(_ context.Context, traineeID string) (*ports.TraineeContactDetails, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.contacts[traineeID]
	if !ok {
		return nil, errors.New("trainee not found")
	}
	return c, nil
}

func (d *fakeUserDirectory) GetUserAccountIds(_ context.Context, personID string) ([]string, error) {
	if _, ok := d.contacts[personID]; ok {
		return []string{"user-" + personID}, nil
	}
	return nil, nil
}

func (d *fakeUserDirectory) GetUserDetailsByID(_ context.Context, userID string) (*ports.UserDetails, error) {
	for _, c := range d.contacts {
		if "user-"+c.TraineeID == userID {
			return &ports.UserDetails{UserID: userID, TraineeID: c.TraineeID, Email: c.Email, GivenName: c.GivenName, FamilyName: c.FamilyName}, nil
		}
	}
	return nil, errors.New("user not found")
}

func (d *fakeUserDirectory) GetUserDetailsByEmail(_ context.Context, email string) (*ports.UserDetails, error) {
	u, ok := d.byEmail[email]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

type fakeMessagingController struct {
	validRecipient bool
	inPilot        bool
	isNewStarter   bool
	pilotErr       error
	localOffice    *domain.LocalOfficeContact
}

func (m *fakeMessagingController) IsValidRecipient(_ context.Context, personID string, channel domain.Channel) bool {
	return m.validRecipient
}

func (m *fakeMessagingController) IsPlacementInPilot2024(_ context.Context, personID, placementID string) (bool, error) {
	return m.inPilot, m.pilotErr
}

func (m *fakeMessagingController) IsProgrammeMembershipInPilot2024(_ context.Context, personID, pmID string) (bool, error) {
	return m.inPilot, m.pilotErr
}

func (m *fakeMessagingController) IsProgrammeMembershipNewStarter(_ context.Context, personID, pmID string) (bool, error) {
	return m.isNewStarter, m.pilotErr
}

func (m *fakeMessagingController) ResolveLocalOfficeContact(_ context.Context, owner string) (*domain.LocalOfficeContact, error) {
	if m.localOffice != nil {
		return m.localOffice, nil
	}
	return &domain.LocalOfficeContact{Type: owner, ContactValue: "north-west@example.com", ContactHref: domain.ContactHrefEmail}, nil
}

type fakeMailGateway struct {
	sent []string
	err  error
}

func (g *fakeMailGateway) SendEmail(_ context.Context, historyID, to, subject, htmlBody string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, historyID)
	return "provider-msg-id", nil
}

type fakeEventPublisher struct {
	published []domain.History
}

func (p *fakeEventPublisher) Publish(_ context.Context, h *domain.History) error {
	p.published = append(p.published, *h)
	return nil
}

type fakeOutboxPublisher struct {
	notified []string
}

func (o *fakeOutboxPublisher) Notify(_ context.Context, notificationID string) {
	o.notified = append(o.notified, notificationID)
}

// ============================================================================
// Test harness
// ============================================================================

type harness struct {
	history   *fakeHistoryRepo
	schedules *fakeScheduleRepo
	scheduler *fakeScheduler
	template  *fakeTemplateRenderer
	directory *fakeUserDirectory
	messaging *fakeMessagingController
	mail      *fakeMailGateway
	publisher *fakeEventPublisher
	outbox    *fakeOutboxPublisher
	clock     *fakeClock
	service   *NotificationService
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	loc := mustLoadLocation(t, "Europe/London")

	h := &harness{
		history:   newFakeHistoryRepo(),
		schedules: newFakeScheduleRepo(),
		scheduler: newFakeScheduler(),
		template:  &fakeTemplateRenderer{},
		directory: &fakeUserDirectory{contacts: map[string]*ports.TraineeContactDetails{
			"p-9": {TraineeID: "p-9", Email: "trainee@example.com", GivenName: "Jane", FamilyName: "Doe"},
		}},
		messaging: &fakeMessagingController{validRecipient: true, inPilot: true, isNewStarter: true},
		mail:      &fakeMailGateway{},
		publisher: &fakeEventPublisher{},
		outbox:    &fakeOutboxPublisher{},
		clock:     &fakeClock{now: now},
	}
	log := logger.New(logger.Config{Level: "error"})
	h.service = NewNotificationService(
		h.history, h.schedules, h.scheduler, h.template, h.directory, h.messaging,
		h.mail, h.publisher, h.outbox, h.clock, log, loc, 0, 0,
	)
	return h
}

func (h *harness) historyByJob(jobID string) *domain.History {
	for _, row := range h.history.rows {
		if row.JobID() == jobID {
			return row
		}
	}
	return nil
}

// ============================================================================
// Scenario: schedule programme milestones
// ============================================================================

func TestApplyProgrammeMembership_SchedulesMilestones(t *testing.T) {
	now := time.Date(2029, 10, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	pm := domain.ProgrammeMembership{
		ID:            "pm-1",
		PersonID:      "p-9",
		ProgrammeName: "Core Medical Training",
		StartDate:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Owner:         "North West",
	}

	if err := h.service.ApplyProgrammeMembership(context.Background(), pm); err != nil {
		t.Fatalf("ApplyProgrammeMembership() error = %v", err)
	}

	wantJobs := []string{
		"PROGRAMME_UPDATED_WEEK_8-pm-1",
		"PROGRAMME_UPDATED_WEEK_4-pm-1",
		"PROGRAMME_UPDATED_WEEK_0-pm-1",
	}
	loc, _ := time.LoadLocation("Europe/London")
	wantFireAt := map[string]time.Time{
		wantJobs[0]: time.Date(2029, 11, 6, 0, 0, 0, 0, loc),
		wantJobs[1]: time.Date(2029, 12, 4, 0, 0, 0, 0, loc),
		wantJobs[2]: time.Date(2030, 1, 1, 0, 0, 0, 0, loc),
	}

	for _, jobID := range wantJobs {
		row := h.historyByJob(jobID)
		if row == nil {
			t.Fatalf("no History row found for job %s", jobID)
		}
		if row.Status != domain.StatusScheduled {
			t.Errorf("job %s status = %v, want SCHEDULED", jobID, row.Status)
		}
		if !row.SentAt.Equal(wantFireAt[jobID]) {
			t.Errorf("job %s SentAt = %v, want %v", jobID, row.SentAt, wantFireAt[jobID])
		}
		if _, pending := h.scheduler.pending[jobID]; !pending {
			t.Errorf("job %s was not armed on the scheduler", jobID)
		}
	}
}

// TestApplyProgrammeMembership_ExcludedPastStart covers a start date strictly before
// today: no milestones are planned.
func TestApplyProgrammeMembership_ExcludedPastStart(t *testing.T) {
	now := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	pm := domain.ProgrammeMembership{ID: "pm-2", PersonID: "p-9", StartDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := h.service.ApplyProgrammeMembership(context.Background(), pm); err != nil {
		t.Fatalf("ApplyProgrammeMembership() error = %v", err)
	}
	if len(h.history.rows) != 0 {
		t.Errorf("expected no History rows for an excluded programme membership, got %d", len(h.history.rows))
	}
}

// ============================================================================
// Scenario: stale-cleanup on type change
// ============================================================================

func TestApplyPlacement_StaleCleanupOnTypeChange(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	pl := domain.Placement{
		ID: "placement-7", PersonID: "p-9", PlacementType: "In Post",
		StartDate: now.AddDate(0, 0, 90), Owner: "North West",
	}
	if err := h.service.ApplyPlacement(context.Background(), pl); err != nil {
		t.Fatalf("ApplyPlacement() error = %v", err)
	}

	jobID := "PLACEMENT_UPDATED_WEEK_12-placement-7"
	row := h.historyByJob(jobID)
	if row == nil || row.Status != domain.StatusScheduled {
		t.Fatalf("expected a SCHEDULED row for %s before the type change", jobID)
	}

	// The same placement arrives again with a type outside the eligible set.
	pl.PlacementType = "RANDOM"
	h.publisher.published = nil
	if err := h.service.ApplyPlacement(context.Background(), pl); err != nil {
		t.Fatalf("second ApplyPlacement() error = %v", err)
	}

	if _, pending := h.scheduler.pending[jobID]; pending {
		t.Errorf("scheduler entry for %s should have been removed", jobID)
	}
	found := false
	for _, id := range h.scheduler.removed {
		if id == jobID {
			found = true
		}
	}
	if !found {
		t.Errorf("Scheduler.Remove was not called for %s", jobID)
	}

	row = h.historyByJob(jobID)
	if row == nil || row.Status != domain.StatusDeleted {
		t.Fatalf("expected %s history to be DELETED after stale-cleanup, got %+v", jobID, row)
	}

	broadcastDeleted := false
	for _, p := range h.publisher.published {
		if p.JobID() == jobID && p.Status == domain.StatusDeleted {
			broadcastDeleted = true
		}
	}
	if !broadcastDeleted {
		t.Error("expected a DELETED broadcast to be emitted for the stale job")
	}
}

// ============================================================================
// Scenario: whitelist/suppression
// ============================================================================

func TestApplyAccount_Suppressed(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.messaging.validRecipient = false

	acc := domain.Account{ID: "acc-1", PersonID: "p-43", Email: "p43@example.com"}
	if err := h.service.ApplyAccount(context.Background(), acc); err != nil {
		t.Fatalf("ApplyAccount() error = %v", err)
	}

	row := h.historyByJob("ACCOUNT_CONFIRMATION-acc-1")
	if row == nil {
		t.Fatal("expected a History row for the suppressed account notification")
	}
	if row.Status != domain.StatusFailed || row.StatusDetail != "suppressed" {
		t.Errorf("row = %+v, want status=FAILED detail=suppressed", row)
	}
	if len(h.mail.sent) != 0 {
		t.Error("mail gateway should not have been invoked for a suppressed recipient")
	}
	if len(h.publisher.published) == 0 {
		t.Error("a suppressed notification must still be broadcast for audit")
	}
}

func TestApplyAccount_Whitelisted(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.messaging.validRecipient = true // whitelisted
	h.directory.contacts["p-42"] = &ports.TraineeContactDetails{TraineeID: "p-42", Email: "p42@example.com"}

	acc := domain.Account{ID: "acc-2", PersonID: "p-42", Email: "p42@example.com"}
	if err := h.service.ApplyAccount(context.Background(), acc); err != nil {
		t.Fatalf("ApplyAccount() error = %v", err)
	}

	row := h.historyByJob("ACCOUNT_CONFIRMATION-acc-2")
	if row == nil || row.Status != domain.StatusSent {
		t.Fatalf("row = %+v, want status=SENT", row)
	}
	if len(h.mail.sent) != 1 {
		t.Errorf("mail gateway sent count = %d, want 1", len(h.mail.sent))
	}
}

// ============================================================================
// Scenario: bounce feedback
// ============================================================================

func TestHandleBounce(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: "acc-3"}
	row, err := domain.NewHistory("p-9", ref, domain.NotificationTypeAccountCreated, domain.ChannelEmail, now)
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	_ = row.MarkSent()
	_ = h.history.Save(context.Background(), row)

	if err := h.service.HandleBounce(context.Background(), row.ID, "Transient", "General"); err != nil {
		t.Fatalf("HandleBounce() error = %v", err)
	}

	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("Status = %v, want FAILED", stored.Status)
	}
	if stored.StatusDetail != "Bounce: Transient - General" {
		t.Errorf("StatusDetail = %q, want %q", stored.StatusDetail, "Bounce: Transient - General")
	}
	if len(h.publisher.published) != 1 {
		t.Errorf("expected exactly one broadcast for the bounce transition, got %d", len(h.publisher.published))
	}
}

func TestHandleComplaint_DefaultsUndetermined(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: "acc-4"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeAccountCreated, domain.ChannelEmail, now)
	_ = row.MarkSent()
	_ = h.history.Save(context.Background(), row)

	if err := h.service.HandleComplaint(context.Background(), row.ID, ""); err != nil {
		t.Fatalf("HandleComplaint() error = %v", err)
	}
	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.StatusDetail != "Complaint: Undetermined" {
		t.Errorf("StatusDetail = %q, want %q", stored.StatusDetail, "Complaint: Undetermined")
	}
}

// ============================================================================
// Deduplication (re-delivering the same inbound event
// produces no duplicate SCHEDULED rows)
// ============================================================================

func TestApplyPlacement_DeduplicatesAgainstSentHistory(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferencePlacement, ID: "placement-9"}
	already, _ := domain.NewHistory("p-9", ref, domain.NotificationTypePlacementUpdatedWeek12, domain.ChannelEmail, now)
	_ = already.MarkSent()
	_ = h.history.Save(context.Background(), already)

	pl := domain.Placement{ID: "placement-9", PersonID: "p-9", PlacementType: "In Post", StartDate: now.AddDate(0, 0, 90)}
	if err := h.service.ApplyPlacement(context.Background(), pl); err != nil {
		t.Fatalf("ApplyPlacement() error = %v", err)
	}

	jobID := "PLACEMENT_UPDATED_WEEK_12-placement-9"
	if n := h.history.countByJob(jobID); n != 1 {
		t.Errorf("history rows for %s = %d, want 1 (no duplicate planned)", jobID, n)
	}
	if _, pending := h.scheduler.pending[jobID]; pending {
		t.Error("an already-delivered job should not be rescheduled")
	}
}

// ============================================================================
// Fire handler: in-app delivers directly; email defers to the outbox.
// ============================================================================

func TestFire_InApp_DeliversDirectly(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-1"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = h.history.Save(context.Background(), row)

	payload := []byte(`{"historyId":"` + row.ID.Hex() + `","variables":{}}`)
	if err := h.service.Fire(context.Background(), row.JobID(), payload); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}

	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusUnread {
		t.Errorf("Status = %v, want UNREAD", stored.Status)
	}
	if len(h.outbox.notified) != 0 {
		t.Error("in-app delivery should not notify the outbox")
	}
}

func TestFire_Email_DefersToOutbox(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: "acc-5"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeAccountCreated, domain.ChannelEmail, now)
	_ = h.history.Save(context.Background(), row)

	payload := []byte(`{"historyId":"` + row.ID.Hex() + `","variables":{}}`)
	if err := h.service.Fire(context.Background(), row.JobID(), payload); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}

	if len(h.outbox.notified) != 1 || h.outbox.notified[0] != row.ID.Hex() {
		t.Errorf("outbox.notified = %v, want [%s]", h.outbox.notified, row.ID.Hex())
	}
	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusScheduled {
		t.Errorf("Status = %v, want still SCHEDULED until the outbox worker submits it", stored.Status)
	}
}

// TestFire_AlreadyActioned_IsIdempotent checks that a duplicate fire for an
// already-SENT history row is a no-op acknowledgment, not a second send.
func TestFire_AlreadyActioned_IsIdempotent(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-2"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = row.MarkUnreadDelivered()
	_ = h.history.Save(context.Background(), row)

	payload := []byte(`{"historyId":"` + row.ID.Hex() + `","variables":{}}`)
	if err := h.service.Fire(context.Background(), row.JobID(), payload); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if len(h.publisher.published) != 0 {
		t.Error("re-firing an already-actioned job should not broadcast again")
	}
}

// ============================================================================
// Orphan sweep
// ============================================================================

func TestDropExpired_RecordsMissedScheduleFailure(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: "acc-6"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeAccountCreated, domain.ChannelEmail, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	_ = h.history.Save(context.Background(), row)

	payload := []byte(`{"historyId":"` + row.ID.Hex() + `","variables":{}}`)
	if err := h.service.DropExpired(context.Background(), row.JobID(), payload); err != nil {
		t.Fatalf("DropExpired() error = %v", err)
	}

	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("Status = %v, want FAILED", stored.Status)
	}
	if len(h.mail.sent) != 0 {
		t.Error("a dropped missed fire must not attempt delivery")
	}
}

// TestSweepOrphanedSchedules_FailsExpired: a
// SCHEDULED row far in the past with no scheduler entry is failed with the
// "Missed Schedule" audit detail and no delivery is attempted.
func TestSweepOrphanedSchedules_FailsExpired(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceAccount, ID: "acc-7"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeAccountCreated, domain.ChannelEmail, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	_ = h.history.Save(context.Background(), row)

	if err := h.service.SweepOrphanedSchedules(context.Background()); err != nil {
		t.Fatalf("SweepOrphanedSchedules() error = %v", err)
	}

	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("Status = %v, want FAILED", stored.Status)
	}
	if stored.StatusDetail != "Missed Schedule" {
		t.Errorf("StatusDetail = %q, want %q", stored.StatusDetail, "Missed Schedule")
	}
	if len(h.mail.sent) != 0 || len(h.outbox.notified) != 0 {
		t.Error("an expired orphan must not be delivered")
	}
	if len(h.publisher.published) != 1 {
		t.Errorf("broadcasts = %d, want exactly 1", len(h.publisher.published))
	}

	// A second sweep finds nothing open and changes nothing.
	if err := h.service.SweepOrphanedSchedules(context.Background()); err != nil {
		t.Fatalf("second SweepOrphanedSchedules() error = %v", err)
	}
	if len(h.publisher.published) != 1 {
		t.Error("a second sweep must not broadcast again")
	}
}

// TestSweepOrphanedSchedules_RearmsFuture: a
// SCHEDULED row whose schedule insertion was lost, with its fire time still
// ahead, is re-armed rather than failed.
func TestSweepOrphanedSchedules_RearmsFuture(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferencePlacement, ID: "placement-11"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypePlacementUpdatedWeek12, domain.ChannelEmail, now.Add(48*time.Hour))
	_ = h.history.Save(context.Background(), row)

	if err := h.service.SweepOrphanedSchedules(context.Background()); err != nil {
		t.Fatalf("SweepOrphanedSchedules() error = %v", err)
	}

	jobID := "PLACEMENT_UPDATED_WEEK_12-placement-11"
	if _, pending := h.scheduler.pending[jobID]; !pending {
		t.Errorf("expected %s to be re-armed on the scheduler", jobID)
	}
	stored, _ := h.history.FindByID(context.Background(), row.ID)
	if stored.Status != domain.StatusScheduled {
		t.Errorf("Status = %v, want still SCHEDULED", stored.Status)
	}
}

// TestSweepOrphanedSchedules_SkipsArmed checks the sweep leaves rows with a
// live scheduler entry alone.
func TestSweepOrphanedSchedules_SkipsArmed(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	pl := domain.Placement{ID: "placement-12", PersonID: "p-9", PlacementType: "In Post", StartDate: now.AddDate(0, 0, 90)}
	if err := h.service.ApplyPlacement(context.Background(), pl); err != nil {
		t.Fatalf("ApplyPlacement() error = %v", err)
	}
	h.publisher.published = nil

	if err := h.service.SweepOrphanedSchedules(context.Background()); err != nil {
		t.Fatalf("SweepOrphanedSchedules() error = %v", err)
	}
	if len(h.publisher.published) != 0 {
		t.Error("sweep must not touch a row whose schedule entry is live")
	}
}

// ============================================================================
// Scenario 4: trainee-initiated status transitions
// ============================================================================

func TestUpdateStatusForTrainee_ArchiveIsIdempotent(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-5"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = row.MarkUnreadDelivered()
	_ = h.history.Save(context.Background(), row)

	updated, err := h.service.UpdateStatusForTrainee(context.Background(), row.ID, "p-9", domain.StatusArchived)
	if err != nil {
		t.Fatalf("UpdateStatusForTrainee() error = %v", err)
	}
	if updated == nil || updated.Status != domain.StatusArchived {
		t.Fatalf("updated = %+v, want ARCHIVED", updated)
	}
	if len(h.publisher.published) == 0 {
		t.Error("a trainee-initiated transition must be broadcast")
	}

	again, err := h.service.UpdateStatusForTrainee(context.Background(), row.ID, "p-9", domain.StatusArchived)
	if err != nil {
		t.Fatalf("second UpdateStatusForTrainee() error = %v", err)
	}
	if again == nil || again.Status != domain.StatusArchived {
		t.Errorf("second archive = %+v, want still ARCHIVED", again)
	}
}

func TestUpdateStatusForTrainee_NotOwned(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-6"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = h.history.Save(context.Background(), row)

	updated, err := h.service.UpdateStatusForTrainee(context.Background(), row.ID, "someone-else", domain.StatusRead)
	if err != nil {
		t.Fatalf("UpdateStatusForTrainee() error = %v", err)
	}
	if updated != nil {
		t.Errorf("updated = %+v, want nil for a row the trainee does not own", updated)
	}
}

// ============================================================================
// SendImmediate / DeleteHistoryForTrainee
// ============================================================================

func TestSendImmediate_InApp(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceGMC, ID: "gmc-1"}
	err := h.service.SendImmediate(context.Background(), "p-9", domain.NotificationTypeGmcUpdated, ref, domain.ChannelInApp, map[string]interface{}{"GmcStatus": "REGISTERED"})
	if err != nil {
		t.Fatalf("SendImmediate() error = %v", err)
	}
	if len(h.publisher.published) != 1 {
		t.Fatalf("published = %d, want 1", len(h.publisher.published))
	}
	if h.publisher.published[0].Status != domain.StatusUnread {
		t.Errorf("Status = %v, want UNREAD", h.publisher.published[0].Status)
	}
}

// TestApplyAccount_ResolvesByEmailWhenLookupMisses: an account confirmation
// whose trainee is not yet in the directory's bulk cache still delivers,
// resolved through the email address the event itself carried.
func TestApplyAccount_ResolvesByEmailWhenLookupMisses(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.directory.byEmail = map[string]*ports.UserDetails{
		"new-trainee@example.com": {UserID: "u-77", TraineeID: "p-77", Email: "new-trainee@example.com", GivenName: "New", FamilyName: "Trainee"},
	}

	acc := domain.Account{ID: "acc-9", PersonID: "p-77", Email: "new-trainee@example.com"}
	if err := h.service.ApplyAccount(context.Background(), acc); err != nil {
		t.Fatalf("ApplyAccount() error = %v", err)
	}

	row := h.historyByJob("ACCOUNT_CONFIRMATION-acc-9")
	if row == nil || row.Status != domain.StatusSent {
		t.Fatalf("row = %+v, want status=SENT via the email fallback", row)
	}
	if len(h.mail.sent) != 1 {
		t.Errorf("mail gateway sent count = %d, want 1", len(h.mail.sent))
	}
	if row.Recipient.Contact != "new-trainee@example.com" {
		t.Errorf("Recipient.Contact = %q, want the resolved email", row.Recipient.Contact)
	}
}

func TestDeleteHistoryForTrainee(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-3"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = row.MarkUnreadDelivered()
	_ = h.history.Save(context.Background(), row)

	if err := h.service.DeleteHistoryForTrainee(context.Background(), row.ID, "p-9"); err != nil {
		t.Fatalf("DeleteHistoryForTrainee() error = %v", err)
	}

	if got, err := h.history.FindByIDAndPerson(context.Background(), row.ID, "p-9"); err != nil || got != nil {
		t.Errorf("history row should have been removed, got %+v, err %v", got, err)
	}

	// A synthetic DELETED broadcast with an empty body is emitted before removal.
	var deletedBroadcast *domain.History
	for i := range h.publisher.published {
		if h.publisher.published[i].ID == row.ID {
			deletedBroadcast = &h.publisher.published[i]
		}
	}
	if deletedBroadcast == nil || deletedBroadcast.Status != domain.StatusDeleted {
		t.Fatalf("expected a DELETED broadcast before removal, got %+v", deletedBroadcast)
	}
	if deletedBroadcast.TemplateInfo.Name != "" {
		t.Error("synthetic delete broadcast should carry an empty body")
	}
}

func TestDeleteHistoryForTrainee_NotOwned(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	ref := domain.TisReference{Type: domain.TisReferenceForm, ID: "form-4"}
	row, _ := domain.NewHistory("p-9", ref, domain.NotificationTypeFormUpdated, domain.ChannelInApp, now)
	_ = h.history.Save(context.Background(), row)

	err := h.service.DeleteHistoryForTrainee(context.Background(), row.ID, "someone-else")
	if !errors.Is(err, domain.ErrHistoryNotFound) {
		t.Errorf("error = %v, want ErrHistoryNotFound", err)
	}
}
