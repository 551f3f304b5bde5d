package domain

import "time"

// ProgrammeMembership is the inbound representation of a trainee's
// programme membership, as published by the programme management queue.
// ID is the programme membership's own TIS id, distinct from PersonID —
// it is what the jobId and TisReference are keyed on.
type ProgrammeMembership struct {
	ID            string    `json:"tisId"`
	PersonID      string    `json:"personId"`
	ProgrammeName string    `json:"programmeName"`
	StartDate     time.Time `json:"startDate"`
	// Owner is the managing local office/deanery, used to resolve the
	// LocalOfficeContact attached to programme milestone notifications.
	Owner string `json:"owner"`
}

// Placement is the inbound representation of a trainee's placement. ID is
// the placement's own TIS id.
type Placement struct {
	ID            string    `json:"tisId"`
	PersonID      string    `json:"personId"`
	PlacementType string    `json:"placementType"`
	Site          string    `json:"site"`
	Specialty     string    `json:"specialty"`
	StartDate     time.Time `json:"startDate"`
	Owner         string    `json:"owner"`
}

// eligiblePlacementTypes are the only placement types the week-12 milestone
// applies to; anything else is excluded outright.
var eligiblePlacementTypes = map[string]bool{
	"In Post":             true,
	"In Post - Acting up": true,
	"In Post - Extension": true,
}

// IsEligibleType reports whether this placement's type is one the week-12
// milestone rule applies to.
func (p Placement) IsEligibleType() bool {
	return eligiblePlacementTypes[p.PlacementType]
}

// LTFT is the inbound representation of a trainee's less-than-full-time
// working status. A later LTFT record for the same form is applied like any
// other record: when it is excluded, apply-entity's stale-cleanup removes any
// notification still scheduled for that form. No explicit "superseded-by"
// pointer is kept.
type LTFT struct {
	ID       string `json:"formRef"`
	PersonID string `json:"personId"`
	Status   string `json:"status"` // e.g. APPROVED, WITHDRAWN, REJECTED
}

// IsActive reports whether this LTFT record still represents the trainee's
// current working pattern.
func (l LTFT) IsActive() bool {
	return l.Status == "APPROVED" || l.Status == "SUBMITTED"
}

// CertificateOfJoining is the inbound representation of a confirmed CoJ.
type CertificateOfJoining struct {
	ID            string    `json:"tisId"`
	PersonID      string    `json:"personId"`
	ProgrammeName string    `json:"programmeName"`
	StartDate     time.Time `json:"startDate"`
	SyncedAt      time.Time `json:"syncedAt"`
}

// Form is the inbound representation of a Form R / Form R Part B update.
type Form struct {
	ID             string `json:"tisId"`
	PersonID       string `json:"personId"`
	FormType       string `json:"formType"`
	LifecycleState string `json:"lifecycleState"`
}

// GMCDetails is the inbound representation of a trainee's GMC registration
// record. TisTrigger/TisTriggerDetail carry a rejection queue's reason,
// where present.
type GMCDetails struct {
	ID               string `json:"tisId"`
	PersonID         string `json:"personId"`
	GmcNumber        string `json:"gmcNumber"`
	GmcStatus        string `json:"gmcStatus"`
	TisTrigger       string `json:"tisTrigger,omitempty"`
	TisTriggerDetail string `json:"tisTriggerDetail,omitempty"`
}

// Account is the inbound representation of a newly created trainee
// self-service account.
type Account struct {
	ID       string `json:"tisId"`
	PersonID string `json:"personId"`
	Email    string `json:"email"`
}
