package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{CertStatusPending, CertStatusIssued, true},
		{CertStatusIssued, CertStatusRevoked, true},

		// Revocation before anchoring
		{CertStatusPending, CertStatusRevoked, true},

		// Invalid transitions
		{CertStatusIssued, CertStatusPending, false},
		{CertStatusRevoked, CertStatusIssued, false},
		{CertStatusRevoked, CertStatusPending, false},
		{CertStatusPending, CertStatusPending, false},
		{"nonexistent", CertStatusIssued, false},
		{CertStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{CertStatusPending, CertStatusIssued, CertStatusRevoked}
	for _, status := range allStatuses {
		if _, ok := ValidCertTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidCertTransitions map", status)
		}
	}
}

func TestRevokedIsTerminal(t *testing.T) {
	if len(ValidCertTransitions[CertStatusRevoked]) != 0 {
		t.Errorf("revoked should have no transitions, got %v", ValidCertTransitions[CertStatusRevoked])
	}
}
