package form

import "time"

// EligibilityState is the computed availability state a student sees
// before attempting to submit.
type EligibilityState string

const (
	EligibilityAvailable        EligibilityState = "available"
	EligibilityNotStarted       EligibilityState = "not_started"
	EligibilityExpired          EligibilityState = "expired"
	EligibilityAlreadySubmitted EligibilityState = "already_submitted"
)

// Eligibility carries the state plus the boundary timestamp a UI needs
// to explain "starts on X" / "expired on X".
type Eligibility struct {
	State         EligibilityState `json:"state"`
	AvailableFrom *time.Time       `json:"available_from,omitempty"` // set when NotStarted
	ExpiredAt     *time.Time       `json:"expired_at,omitempty"`     // set when Expired
}

func (e Eligibility) Available() bool {
	return e.State == EligibilityAvailable
}

// EvaluateEligibility decides whether a submission attempt should be
// allowed right now, and if not, why.
//
// An existing submission takes priority and short-circuits the window
// checks: a student whose submission exists sees "already submitted",
// never "expired". Boundary equality is available: only strict
// before/after comparisons close the window. Pure; callers must
// re-evaluate on every access since `now` is a moving input.
func EvaluateEligibility(frm Form, now time.Time, hasSubmission bool) Eligibility {
	if hasSubmission {
		return Eligibility{State: EligibilityAlreadySubmitted}
	}
	if frm.VisibleFrom != nil && now.Before(*frm.VisibleFrom) {
		return Eligibility{State: EligibilityNotStarted, AvailableFrom: frm.VisibleFrom}
	}
	if frm.VisibleUntil != nil && now.After(*frm.VisibleUntil) {
		return Eligibility{State: EligibilityExpired, ExpiredAt: frm.VisibleUntil}
	}
	return Eligibility{State: EligibilityAvailable}
}
