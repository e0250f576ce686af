package exam

import "time"

// Records describes what already exists for a (user, exam) pair.
// Empty ids mean "none".
type Records struct {
	PriorAttemptID     string
	ApprovedOverrideID string
}

// Decision is the outcome of an eligibility check.
//
// When ConsumeOverride is set, access was granted only because of an approved
// retake request: the caller must delete both PriorAttemptID and OverrideID
// before the new attempt is recorded.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          Reason `json:"reason,omitempty"`
	ConsumeOverride bool   `json:"consume_override,omitempty"`
	PriorAttemptID  string `json:"-"`
	OverrideID      string `json:"-"`
}

func deny(r Reason) Decision { return Decision{Reason: r} }

// Err returns a *DenialError for denied decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DenialError{Reason: d.Reason}
}

// CanStart checks, in order, visibility, active flag, schedule window and
// prior attempts.
func CanStart(e Exam, userID string, now time.Time, rec Records) Decision {
	if d, ok := checkAudience(e, userID); !ok {
		return d
	}
	if e.Timing == TimingScheduled {
		if d, ok := checkWindow(e, 0, now); !ok {
			return d
		}
	}
	if rec.PriorAttemptID == "" {
		return Decision{Allowed: true}
	}
	if rec.ApprovedOverrideID == "" {
		return deny(ReasonAlreadyAttempted)
	}
	return Decision{
		Allowed:         true,
		ConsumeOverride: true,
		PriorAttemptID:  rec.PriorAttemptID,
		OverrideID:      rec.ApprovedOverrideID,
	}
}

// CanAccess is CanStart reduced to a yes/no answer.
func CanAccess(e Exam, userID string, now time.Time, rec Records) bool {
	return CanStart(e, userID, now, rec).Allowed
}

// CanView decides whether a student may see the exam's description. Only
// visibility and the active flag apply; questions are handed out by a start.
func CanView(e Exam, userID string) Decision {
	if d, ok := checkAudience(e, userID); !ok {
		return d
	}
	return Decision{Allowed: true}
}

// CanSubmit is the check applied when answers are handed in. The schedule
// window stays open for one full time allowance after EndsAt so a sitting
// started just before the close can finish. Attempt uniqueness is left to the
// ledger.
func CanSubmit(e Exam, userID string, now time.Time) Decision {
	if d, ok := checkAudience(e, userID); !ok {
		return d
	}
	if e.Timing == TimingScheduled {
		if d, ok := checkWindow(e, e.TimeLimit(), now); !ok {
			return d
		}
	}
	return Decision{Allowed: true}
}

func checkAudience(e Exam, userID string) (Decision, bool) {
	if e.Visibility == VisibilityRestricted && !e.IsAuthorized(userID) {
		return deny(ReasonNotAuthorized), false
	}
	if !e.Active {
		return deny(ReasonInactive), false
	}
	return Decision{}, true
}

// A scheduled exam missing either bound never opens.
func checkWindow(e Exam, grace time.Duration, now time.Time) (Decision, bool) {
	if e.StartsAt == nil || e.EndsAt == nil {
		return deny(ReasonClosed), false
	}
	if now.Before(*e.StartsAt) {
		return deny(ReasonNotYetOpen), false
	}
	if now.After(e.EndsAt.Add(grace)) {
		return deny(ReasonClosed), false
	}
	return Decision{}, true
}
