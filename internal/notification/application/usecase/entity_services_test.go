package usecase

import (
	"testing"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/domain"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata for %s not available in this environment: %v", name, err)
	}
	return loc
}

func TestChannelsFor(t *testing.T) {
	tests := []struct {
		notifType domain.NotificationType
		want      []domain.Channel
	}{
		{domain.NotificationTypeProgrammeUpdatedWeek8, []domain.Channel{domain.ChannelEmail}},
		{domain.NotificationTypePlacementUpdatedWeek12, []domain.Channel{domain.ChannelEmail}},
		{domain.NotificationTypeFormUpdated, []domain.Channel{domain.ChannelInApp}},
		{domain.NotificationTypeCojConfirmed, []domain.Channel{domain.ChannelInApp}},
		{domain.NotificationTypeAccountCreated, []domain.Channel{domain.ChannelEmail}},
	}
	for _, tt := range tests {
		got := ChannelsFor(tt.notifType)
		if len(got) != len(tt.want) {
			t.Fatalf("ChannelsFor(%v) = %v, want %v", tt.notifType, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ChannelsFor(%v)[%d] = %v, want %v", tt.notifType, i, got[i], tt.want[i])
			}
		}
	}
}

// TestProgrammeMembershipService_Plan: a
// programme membership starting 2030-01-01 plans WEEK_8/WEEK_4/WEEK_0 at
// the local midnights 56/28/0 days before start.
func TestProgrammeMembershipService_Plan(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/London")
	svc := NewProgrammeMembershipService()
	pm := domain.ProgrammeMembership{
		ID:            "pm-1",
		PersonID:      "p-9",
		ProgrammeName: "Core Medical Training",
		StartDate:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Owner:         "North West",
	}

	plans := svc.Plan(pm, loc)
	if len(plans) != 3 {
		t.Fatalf("Plan() returned %d plans, want 3", len(plans))
	}

	want := map[domain.NotificationType]time.Time{
		domain.NotificationTypeProgrammeUpdatedWeek8: time.Date(2029, 11, 6, 0, 0, 0, 0, loc),
		domain.NotificationTypeProgrammeUpdatedWeek4: time.Date(2029, 12, 4, 0, 0, 0, 0, loc),
		domain.NotificationTypeProgrammeUpdatedWeek0: time.Date(2030, 1, 1, 0, 0, 0, 0, loc),
	}
	for _, p := range plans {
		wantFireAt, ok := want[p.NotificationType]
		if !ok {
			t.Fatalf("unexpected notification type %v in plan", p.NotificationType)
		}
		if !p.FireAt.Equal(wantFireAt) {
			t.Errorf("%v.FireAt = %v, want %v", p.NotificationType, p.FireAt, wantFireAt)
		}
		if p.Variables["ProgrammeName"] != pm.ProgrammeName {
			t.Errorf("%v.Variables[ProgrammeName] = %v, want %v", p.NotificationType, p.Variables["ProgrammeName"], pm.ProgrammeName)
		}
	}
}

func TestProgrammeMembershipService_IsExcluded(t *testing.T) {
	svc := NewProgrammeMembershipService()
	today := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		startDate time.Time
		want      bool
	}{
		{"no start date", time.Time{}, true},
		{"start before today", today.AddDate(0, 0, -1), true},
		{"start equals today", today, false},
		{"start in future", today.AddDate(0, 0, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := domain.ProgrammeMembership{StartDate: tt.startDate}
			if got := svc.IsExcluded(pm, today); got != tt.want {
				t.Errorf("IsExcluded() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPlacementService_IsExcluded covers the today boundary: a
// placement starting exactly today with an eligible type is NOT excluded
// (its WEEK_0-equivalent milestone must still fire).
func TestPlacementService_IsExcluded(t *testing.T) {
	svc := NewPlacementService()
	today := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		placementType string
		startDate     time.Time
		want          bool
	}{
		{"eligible type, starts today", "In Post", today, false},
		{"eligible type, starts future", "In Post - Acting up", today.AddDate(0, 0, 5), false},
		{"ineligible type", "RANDOM", today.AddDate(0, 0, 5), true},
		{"eligible type, no start date", "In Post", time.Time{}, true},
		{"eligible type, started yesterday", "In Post", today.AddDate(0, 0, -1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := domain.Placement{PlacementType: tt.placementType, StartDate: tt.startDate}
			if got := svc.IsExcluded(pl, today); got != tt.want {
				t.Errorf("IsExcluded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlacementService_Plan(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/London")
	svc := NewPlacementService()
	start := time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC)
	pl := domain.Placement{Site: "General Hospital", Specialty: "Cardiology", StartDate: start, Owner: "North West"}

	plans := svc.Plan(pl, loc)
	if len(plans) != 1 {
		t.Fatalf("Plan() returned %d plans, want 1", len(plans))
	}
	want := time.Date(2030, 1, 7, 0, 0, 0, 0, loc)
	if !plans[0].FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v (84 days before start)", plans[0].FireAt, want)
	}
	if plans[0].NotificationType != domain.NotificationTypePlacementUpdatedWeek12 {
		t.Errorf("NotificationType = %v, want WEEK_12", plans[0].NotificationType)
	}
}

func TestLTFTService(t *testing.T) {
	svc := NewLTFTService()
	if svc.IsExcluded(domain.LTFT{Status: "APPROVED"}) {
		t.Error("IsExcluded(APPROVED) = true, want false")
	}
	if !svc.IsExcluded(domain.LTFT{Status: "WITHDRAWN"}) {
		t.Error("IsExcluded(WITHDRAWN) = false, want true")
	}
	plans := svc.Plan(domain.LTFT{Status: "APPROVED"})
	if len(plans) != 1 || plans[0].NotificationType != domain.NotificationTypeLtftUpdated {
		t.Errorf("Plan() = %+v, want single LTFT_UPDATED plan", plans)
	}
	if !plans[0].FireAt.IsZero() {
		t.Error("LTFT plan should fire immediately (zero FireAt)")
	}
}

func TestCojService(t *testing.T) {
	svc := NewCojService()
	if svc.IsExcluded(domain.CertificateOfJoining{}) {
		t.Error("CoJ confirmation should never be excluded")
	}
	plans := svc.Plan(domain.CertificateOfJoining{ProgrammeName: "GP Training"})
	if len(plans) != 1 || plans[0].NotificationType != domain.NotificationTypeCojConfirmed {
		t.Errorf("Plan() = %+v, want single COJ_CONFIRMED plan", plans)
	}
}

func TestFormService_IsExcluded(t *testing.T) {
	svc := NewFormService()
	tests := []struct {
		state string
		want  bool
	}{
		{"SUBMITTED", false},
		{"APPROVED", false},
		{"DRAFT", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := svc.IsExcluded(domain.Form{LifecycleState: tt.state}); got != tt.want {
			t.Errorf("IsExcluded(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestGMCService(t *testing.T) {
	svc := NewGMCService()
	if svc.IsExcluded(domain.GMCDetails{}) {
		t.Error("GMC detail change should never be excluded")
	}
	plans := svc.Plan(domain.GMCDetails{GmcNumber: "1234567", GmcStatus: "REGISTERED"})
	if len(plans) != 1 || plans[0].Variables["GmcNumber"] != "1234567" {
		t.Errorf("Plan() = %+v, unexpected", plans)
	}
}

func TestAccountService(t *testing.T) {
	svc := NewAccountService()
	if svc.IsExcluded(domain.Account{}) {
		t.Error("account creation should never be excluded")
	}
	plans := svc.Plan(domain.Account{Email: "trainee@example.com"})
	if len(plans) != 1 || plans[0].Variables["Email"] != "trainee@example.com" {
		t.Errorf("Plan() = %+v, unexpected", plans)
	}
}
