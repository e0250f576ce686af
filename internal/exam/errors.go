package exam

import (
	"fmt"

	"github.com/pkg/errors"
)

// Reason explains why an eligibility check denied access.
type Reason string

const (
	ReasonNotAuthorized    Reason = "not_authorized"
	ReasonInactive         Reason = "inactive"
	ReasonNotYetOpen       Reason = "not_yet_open"
	ReasonClosed           Reason = "closed"
	ReasonAlreadyAttempted Reason = "already_attempted"
)

// Message is the text shown to a student.
func (r Reason) Message() string {
	switch r {
	case ReasonNotAuthorized:
		return "you are not on the list of students for this exam"
	case ReasonInactive:
		return "this exam is not active"
	case ReasonNotYetOpen:
		return "this exam has not opened yet"
	case ReasonClosed:
		return "this exam is closed"
	case ReasonAlreadyAttempted:
		return "you have already taken this exam"
	default:
		return string(r)
	}
}

var (
	ErrDenied                  = errors.New("access denied")
	ErrDuplicateAttempt        = errors.New("attempt already recorded")
	ErrDuplicatePendingRequest = errors.New("a pending retake request already exists")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidState            = errors.New("invalid state")
	ErrNotFound                = errors.New("not found")
)

// DenialError carries the reason of a denied eligibility decision.
type DenialError struct {
	Reason Reason
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDenied, e.Reason)
}

func (e *DenialError) Is(target error) bool { return target == ErrDenied }

// DenialReason extracts the reason from err, if it is a denial.
func DenialReason(err error) (Reason, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}
