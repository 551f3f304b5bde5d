package usecase

import (
	"time"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

// entityChannels lists which channels each notification type fans out to
// once a milestone or immediate trigger has been planned. Milestone
// reminders go out as email; lifecycle confirmations land in the in-app
// inbox. Each type keeps a single home channel: the jobId carries no
// channel component, so a second channel on a scheduled type would break
// the one-open-schedule-per-jobId invariant.
var entityChannels = map[domain.NotificationType][]domain.Channel{
	domain.NotificationTypeProgrammeUpdatedWeek8:  {domain.ChannelEmail},
	domain.NotificationTypeProgrammeUpdatedWeek4:  {domain.ChannelEmail},
	domain.NotificationTypeProgrammeUpdatedWeek0:  {domain.ChannelEmail},
	domain.NotificationTypePlacementUpdatedWeek12: {domain.ChannelEmail},
	domain.NotificationTypeFormUpdated:            {domain.ChannelInApp},
	domain.NotificationTypeCojConfirmed:           {domain.ChannelInApp},
	domain.NotificationTypeGmcUpdated:             {domain.ChannelInApp},
	domain.NotificationTypeLtftUpdated:            {domain.ChannelInApp},
	domain.NotificationTypeAccountCreated:         {domain.ChannelEmail},
}

// ChannelsFor returns the channels a notification type fans out to.
func ChannelsFor(t domain.NotificationType) []domain.Channel {
	return entityChannels[t]
}

// MilestonePlan is a candidate notification family member before
// per-channel fan-out: one NotificationType firing at one time, with the
// template variables it renders with.
type MilestonePlan struct {
	NotificationType domain.NotificationType
	FireAt           time.Time
	Variables        map[string]interface{}
}

// startOfDayIn returns the start of t's calendar day in loc, the reference
// point milestone offsets and the "start date strictly before today"
// exclusion check are both computed against.
func startOfDayIn(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ProgrammeMembershipService owns the pure business rules for
// programme-membership milestones: WEEK_8, WEEK_4, WEEK_0
// counted down from the programme start date. It performs no I/O; any
// contact/pilot enrichment happens in the Notification Service's
// normalization step before Plan is consulted.
type ProgrammeMembershipService struct{}

// NewProgrammeMembershipService constructs a ProgrammeMembershipService.
func NewProgrammeMembershipService() *ProgrammeMembershipService {
	return &ProgrammeMembershipService{}
}

// IsExcluded reports whether milestones are off the table for this
// programme membership: no start date, or a start date strictly before
// today, excludes all milestones.
func (s *ProgrammeMembershipService) IsExcluded(pm domain.ProgrammeMembership, startOfToday time.Time) bool {
	return pm.StartDate.IsZero() || pm.StartDate.Before(startOfToday)
}

// MilestoneDays returns the configured days-before-start for a programme
// milestone type.
func (s *ProgrammeMembershipService) MilestoneDays(t domain.NotificationType) (int, bool) {
	switch t {
	case domain.NotificationTypeProgrammeUpdatedWeek8:
		return domain.ProgrammeMilestoneWeek8, true
	case domain.NotificationTypeProgrammeUpdatedWeek4:
		return domain.ProgrammeMilestoneWeek4, true
	case domain.NotificationTypeProgrammeUpdatedWeek0:
		return domain.ProgrammeMilestoneDay0, true
	default:
		return 0, false
	}
}

// Plan returns one candidate per programme milestone.
func (s *ProgrammeMembershipService) Plan(pm domain.ProgrammeMembership, loc *time.Location) []MilestonePlan {
	types := []domain.NotificationType{
		domain.NotificationTypeProgrammeUpdatedWeek8,
		domain.NotificationTypeProgrammeUpdatedWeek4,
		domain.NotificationTypeProgrammeUpdatedWeek0,
	}
	vars := map[string]interface{}{
		"ProgrammeName": pm.ProgrammeName,
		"StartDate":     pm.StartDate,
		"Owner":         pm.Owner,
	}
	plans := make([]MilestonePlan, 0, len(types))
	for _, t := range types {
		days, _ := s.MilestoneDays(t)
		plans = append(plans, MilestonePlan{
			NotificationType: t,
			FireAt:           startOfDayIn(pm.StartDate, loc).AddDate(0, 0, -days),
			Variables:        vars,
		})
	}
	return plans
}

// PlacementService implements the three pure functions for the single
// placement milestone, WEEK_12.
type PlacementService struct{}

// NewPlacementService constructs a PlacementService.
func NewPlacementService() *PlacementService {
	return &PlacementService{}
}

// IsExcluded reports whether the milestone is off the table for this
// placement: an ineligible placement type, missing start date, or a start
// date strictly before today excludes the milestone.
func (s *PlacementService) IsExcluded(pl domain.Placement, startOfToday time.Time) bool {
	return !pl.IsEligibleType() || pl.StartDate.IsZero() || pl.StartDate.Before(startOfToday)
}

// MilestoneDays returns the configured days-before-start for a placement
// milestone type.
func (s *PlacementService) MilestoneDays(t domain.NotificationType) (int, bool) {
	if t == domain.NotificationTypePlacementUpdatedWeek12 {
		return domain.PlacementMilestoneWeek12, true
	}
	return 0, false
}

// Plan returns the single week-12 candidate.
func (s *PlacementService) Plan(pl domain.Placement, loc *time.Location) []MilestonePlan {
	days, _ := s.MilestoneDays(domain.NotificationTypePlacementUpdatedWeek12)
	vars := map[string]interface{}{
		"Site":      pl.Site,
		"Specialty": pl.Specialty,
		"StartDate": pl.StartDate,
		"Owner":     pl.Owner,
	}
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypePlacementUpdatedWeek12,
		FireAt:           startOfDayIn(pl.StartDate, loc).AddDate(0, 0, -days),
		Variables:        vars,
	}}
}

// LTFTService plans the immediate LTFT-status notification. A withdrawn or
// rejected record excludes the trainee; a later LTFT record superseding an
// earlier one relies on the same exclusion check, run when the later record
// is applied (stale-cleanup then removes the earlier schedule), not an
// explicit "superseded-by" pointer.
type LTFTService struct{}

// NewLTFTService constructs an LTFTService.
func NewLTFTService() *LTFTService { return &LTFTService{} }

// IsExcluded reports whether this LTFT record no longer warrants notifying.
func (s *LTFTService) IsExcluded(l domain.LTFT) bool {
	return !l.IsActive()
}

// MilestoneDays: LTFT notifications are immediate, not milestone-based.
func (s *LTFTService) MilestoneDays(domain.NotificationType) (int, bool) { return 0, false }

// Plan returns the single immediate candidate.
func (s *LTFTService) Plan(l domain.LTFT) []MilestonePlan {
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypeLtftUpdated,
		Variables:        map[string]interface{}{"Status": l.Status},
	}}
}

// CojService plans the immediate confirmed-certificate-of-joining
// notification.
type CojService struct{}

// NewCojService constructs a CojService.
func NewCojService() *CojService { return &CojService{} }

// IsExcluded: a CoJ confirmation is never excluded once received.
func (s *CojService) IsExcluded(domain.CertificateOfJoining) bool { return false }

// MilestoneDays: CoJ notifications are immediate.
func (s *CojService) MilestoneDays(domain.NotificationType) (int, bool) { return 0, false }

// Plan returns the single immediate candidate.
func (s *CojService) Plan(c domain.CertificateOfJoining) []MilestonePlan {
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypeCojConfirmed,
		Variables: map[string]interface{}{
			"ProgrammeName": c.ProgrammeName,
			"StartDate":     c.StartDate,
		},
	}}
}

// FormService plans the immediate Form-lifecycle notification.
type FormService struct{}

// NewFormService constructs a FormService.
func NewFormService() *FormService { return &FormService{} }

// IsExcluded reports whether this form's lifecycle state does not warrant
// notifying.
func (s *FormService) IsExcluded(f domain.Form) bool {
	return f.LifecycleState != "SUBMITTED" && f.LifecycleState != "APPROVED"
}

// MilestoneDays: form notifications are immediate.
func (s *FormService) MilestoneDays(domain.NotificationType) (int, bool) { return 0, false }

// Plan returns the single immediate candidate.
func (s *FormService) Plan(f domain.Form) []MilestonePlan {
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypeFormUpdated,
		Variables:        map[string]interface{}{"FormType": f.FormType, "LifecycleState": f.LifecycleState},
	}}
}

// GMCService plans the immediate GMC-registration-detail notification.
type GMCService struct{}

// NewGMCService constructs a GMCService.
func NewGMCService() *GMCService { return &GMCService{} }

// IsExcluded: a GMC detail change is never excluded.
func (s *GMCService) IsExcluded(domain.GMCDetails) bool { return false }

// MilestoneDays: GMC notifications are immediate.
func (s *GMCService) MilestoneDays(domain.NotificationType) (int, bool) { return 0, false }

// Plan returns the single immediate candidate.
func (s *GMCService) Plan(g domain.GMCDetails) []MilestonePlan {
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypeGmcUpdated,
		Variables:        map[string]interface{}{"GmcNumber": g.GmcNumber, "GmcStatus": g.GmcStatus},
	}}
}

// AccountService plans the immediate account-created notification.
type AccountService struct{}

// NewAccountService constructs an AccountService.
func NewAccountService() *AccountService { return &AccountService{} }

// IsExcluded: an account creation is never excluded.
func (s *AccountService) IsExcluded(domain.Account) bool { return false }

// MilestoneDays: account notifications are immediate.
func (s *AccountService) MilestoneDays(domain.NotificationType) (int, bool) { return 0, false }

// Plan returns the single immediate candidate.
func (s *AccountService) Plan(a domain.Account) []MilestonePlan {
	return []MilestonePlan{{
		NotificationType: domain.NotificationTypeAccountCreated,
		Variables:        map[string]interface{}{"Email": a.Email},
	}}
}
