package exam_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 1, 1, hh, mm, 0, 0, time.UTC)
}

func scheduled(start, end time.Time) exam.Exam {
	return exam.Exam{
		ID:         "x",
		Visibility: exam.VisibilityOpen,
		Timing:     exam.TimingScheduled,
		StartsAt:   &start,
		EndsAt:     &end,
		Active:     true,
	}
}

func TestCanStartScheduledWindow(t *testing.T) {
	e := scheduled(at(10, 0), at(11, 0))

	d := exam.CanStart(e, "u1", at(9, 59), exam.Records{})
	require.False(t, d.Allowed)
	require.Equal(t, exam.ReasonNotYetOpen, d.Reason)

	require.True(t, exam.CanAccess(e, "u1", at(10, 30), exam.Records{}))

	// both bounds are inclusive
	require.True(t, exam.CanAccess(e, "u1", at(10, 0), exam.Records{}))
	require.True(t, exam.CanAccess(e, "u1", at(11, 0), exam.Records{}))

	d = exam.CanStart(e, "u1", at(11, 0).Add(time.Second), exam.Records{})
	require.Equal(t, exam.ReasonClosed, d.Reason)
}

func TestCanStartUnscheduledIgnoresClock(t *testing.T) {
	e := exam.Exam{Visibility: exam.VisibilityOpen, Timing: exam.TimingUnscheduled, Active: true}
	for _, now := range []time.Time{{}, at(0, 0), time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)} {
		require.True(t, exam.CanAccess(e, "u1", now, exam.Records{}))
	}
}

func TestCanStartScheduledWithoutBounds(t *testing.T) {
	e := exam.Exam{Visibility: exam.VisibilityOpen, Timing: exam.TimingScheduled, Active: true}
	d := exam.CanStart(e, "u1", at(10, 0), exam.Records{})
	require.Equal(t, exam.ReasonClosed, d.Reason)
}

func TestCanStartReasonOrder(t *testing.T) {
	e := scheduled(at(10, 0), at(11, 0))
	e.Visibility = exam.VisibilityRestricted
	e.AuthorizedUsers = []string{"u1"}
	e.Active = false
	prior := exam.Records{PriorAttemptID: "a1"}

	// every check fails for u2; visibility is reported first
	require.Equal(t, exam.ReasonNotAuthorized, exam.CanStart(e, "u2", at(12, 0), prior).Reason)
	require.Equal(t, exam.ReasonInactive, exam.CanStart(e, "u1", at(12, 0), prior).Reason)

	e.Active = true
	require.Equal(t, exam.ReasonClosed, exam.CanStart(e, "u1", at(12, 0), prior).Reason)
	require.Equal(t, exam.ReasonAlreadyAttempted, exam.CanStart(e, "u1", at(10, 30), prior).Reason)
}

func TestCanStartWithApprovedOverride(t *testing.T) {
	e := exam.Exam{Visibility: exam.VisibilityOpen, Timing: exam.TimingUnscheduled, Active: true}

	d := exam.CanStart(e, "u1", at(10, 0), exam.Records{PriorAttemptID: "a1", ApprovedOverrideID: "o1"})
	require.True(t, d.Allowed)
	require.True(t, d.ConsumeOverride)
	require.Equal(t, "a1", d.PriorAttemptID)
	require.Equal(t, "o1", d.OverrideID)

	d = exam.CanStart(e, "u1", at(10, 0), exam.Records{})
	require.True(t, d.Allowed)
	require.False(t, d.ConsumeOverride)

	// an approved request without a prior attempt has nothing to replace
	d = exam.CanStart(e, "u1", at(10, 0), exam.Records{ApprovedOverrideID: "o1"})
	require.True(t, d.Allowed)
	require.False(t, d.ConsumeOverride)
}

func TestCanSubmitGrace(t *testing.T) {
	e := scheduled(at(10, 0), at(11, 0))
	e.SecondsPerQuestion = 60
	e.Questions = make([]exam.Question, 5)

	require.True(t, exam.CanSubmit(e, "u1", at(11, 5)).Allowed)
	require.Equal(t, exam.ReasonClosed, exam.CanSubmit(e, "u1", at(11, 5).Add(time.Second)).Reason)
	require.Equal(t, exam.ReasonNotYetOpen, exam.CanSubmit(e, "u1", at(9, 0)).Reason)

	e.Active = false
	require.Equal(t, exam.ReasonInactive, exam.CanSubmit(e, "u1", at(10, 30)).Reason)
}

func TestDecisionErr(t *testing.T) {
	require.NoError(t, exam.Decision{Allowed: true}.Err())

	err := exam.Decision{Reason: exam.ReasonClosed}.Err()
	require.True(t, errors.Is(err, exam.ErrDenied))
	reason, ok := exam.DenialReason(errors.Wrap(err, "start"))
	require.True(t, ok)
	require.Equal(t, exam.ReasonClosed, reason)

	_, ok = exam.DenialReason(exam.ErrNotFound)
	require.False(t, ok)
}
