package form

import (
	"testing"
	"time"
)

func TestEvaluateEligibility(t *testing.T) {
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name          string
		frm           Form
		hasSubmission bool
		wantState     EligibilityState
		wantFrom      *time.Time
		wantExpired   *time.Time
	}{
		{name: "no window", frm: Form{}, wantState: EligibilityAvailable},
		{name: "within window", frm: Form{VisibleFrom: &past, VisibleUntil: &future}, wantState: EligibilityAvailable},
		{name: "only from, passed", frm: Form{VisibleFrom: &past}, wantState: EligibilityAvailable},
		{name: "only until, ahead", frm: Form{VisibleUntil: &future}, wantState: EligibilityAvailable},
		{name: "before window", frm: Form{VisibleFrom: &future}, wantState: EligibilityNotStarted, wantFrom: &future},
		{name: "after window", frm: Form{VisibleUntil: &past}, wantState: EligibilityExpired, wantExpired: &past},
		{name: "exactly at open", frm: Form{VisibleFrom: &now}, wantState: EligibilityAvailable},
		{name: "exactly at close", frm: Form{VisibleUntil: &now}, wantState: EligibilityAvailable},
		{name: "exactly at both bounds", frm: Form{VisibleFrom: &now, VisibleUntil: &now}, wantState: EligibilityAvailable},
		{name: "submitted, no window", frm: Form{}, hasSubmission: true, wantState: EligibilityAlreadySubmitted},
		{name: "submitted wins over expired", frm: Form{VisibleUntil: &past}, hasSubmission: true, wantState: EligibilityAlreadySubmitted},
		{name: "submitted wins over not started", frm: Form{VisibleFrom: &future}, hasSubmission: true, wantState: EligibilityAlreadySubmitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateEligibility(tt.frm, now, tt.hasSubmission)
			if got.State != tt.wantState {
				t.Errorf("State = %q; expected %q", got.State, tt.wantState)
			}
			if (got.AvailableFrom == nil) != (tt.wantFrom == nil) ||
				(got.AvailableFrom != nil && !got.AvailableFrom.Equal(*tt.wantFrom)) {
				t.Errorf("AvailableFrom = %v; expected %v", got.AvailableFrom, tt.wantFrom)
			}
			if (got.ExpiredAt == nil) != (tt.wantExpired == nil) ||
				(got.ExpiredAt != nil && !got.ExpiredAt.Equal(*tt.wantExpired)) {
				t.Errorf("ExpiredAt = %v; expected %v", got.ExpiredAt, tt.wantExpired)
			}
			if got.Available() != (tt.wantState == EligibilityAvailable) {
				t.Errorf("Available() = %v for state %q", got.Available(), got.State)
			}
		})
	}
}
