package domain

import "testing"

func TestPlacement_IsEligibleType(t *testing.T) {
	tests := []struct {
		placementType string
		want          bool
	}{
		{"In Post", true},
		{"In Post - Acting up", true},
		{"In Post - Extension", true},
		{"Out of Programme", false},
		{"RANDOM", false},
		{"", false},
	}
	for _, tt := range tests {
		p := Placement{PlacementType: tt.placementType}
		if got := p.IsEligibleType(); got != tt.want {
			t.Errorf("Placement{%q}.IsEligibleType() = %v, want %v", tt.placementType, got, tt.want)
		}
	}
}

func TestLTFT_IsActive(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"APPROVED", true},
		{"SUBMITTED", true},
		{"WITHDRAWN", false},
		{"REJECTED", false},
		{"", false},
	}
	for _, tt := range tests {
		l := LTFT{Status: tt.status}
		if got := l.IsActive(); got != tt.want {
			t.Errorf("LTFT{%q}.IsActive() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
