package proctor_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/syncx"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*proctor.Service, *syncx.MemoryLog) {
	t.Helper()
	events := syncx.NewMemoryLog()
	return proctor.NewService(exam.NewInMemoryCatalog(), ledger.NewInMemoryStore(), events, nil), events
}

func sampleExam() exam.Exam {
	return exam.Exam{
		Title:              "Cells",
		CourseID:           "bio-101",
		Visibility:         exam.VisibilityOpen,
		Timing:             exam.TimingUnscheduled,
		SecondsPerQuestion: 30,
		Active:             true,
		Questions: []exam.Question{
			{ID: "q1", Prompt: "p1", Options: [4]string{"a", "b", "c", "d"}, Correct: exam.LabelA},
			{ID: "q2", Prompt: "p2", Options: [4]string{"a", "b", "c", "d"}, Correct: exam.LabelB},
			{ID: "q3", Prompt: "p3", Options: [4]string{"a", "b", "c", "d"}, Correct: exam.LabelC},
		},
	}
}

func create(t *testing.T, svc *proctor.Service, e exam.Exam) exam.Exam {
	t.Helper()
	out, err := svc.CreateExam(context.Background(), e, "teacher1", t0)
	require.NoError(t, err)
	return out
}

func TestStartHidesAnswersAndSetsDeadline(t *testing.T) {
	svc, _ := newService(t)
	e := create(t, svc, sampleExam())

	sess, err := svc.Start(context.Background(), e.ID, "s1", t0)
	require.NoError(t, err)
	require.False(t, sess.Retake)
	require.NotNil(t, sess.Deadline)
	require.Equal(t, t0.Add(90*time.Second), *sess.Deadline)
	for _, q := range sess.Exam.Questions {
		require.Empty(t, q.Correct)
	}
}

func TestSubmitTwiceIsDuplicate(t *testing.T) {
	svc, events := newService(t)
	e := create(t, svc, sampleExam())
	ctx := context.Background()

	in := proctor.SubmitInput{
		ExamID: e.ID, UserID: "s1", ElapsedSeconds: 95,
		Answers: map[exam.QuestionID]exam.Label{"q1": exam.LabelA, "q2": exam.LabelC, "q3": exam.LabelC},
	}
	a, err := svc.Submit(ctx, in, t0)
	require.NoError(t, err)
	require.Equal(t, 2, a.CorrectCount)
	require.Equal(t, 66.67, a.Percentage)

	_, err = svc.Submit(ctx, in, t0.Add(time.Minute))
	require.True(t, errors.Is(err, exam.ErrDuplicateAttempt), "got %v", err)

	_, err = svc.Start(ctx, e.ID, "s1", t0.Add(time.Minute))
	reason, ok := exam.DenialReason(err)
	require.True(t, ok)
	require.Equal(t, exam.ReasonAlreadyAttempted, reason)

	evs, err := events.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, syncx.TypeAttemptRecorded, evs[0].Type)
}

func TestApprovedRetakeAllowsSecondAttempt(t *testing.T) {
	svc, events := newService(t)
	e := create(t, svc, sampleExam())
	ctx := context.Background()

	first, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0)
	require.NoError(t, err)
	require.Zero(t, first.CorrectCount)

	req, err := svc.RequestRetake(ctx, e.ID, "s1", "power cut", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, ledger.OverridePending, req.Status)

	d, err := svc.Access(ctx, e.ID, "s1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, d.Allowed)

	decided, err := svc.DecideRetake(ctx, req.ID, true, "ok", "teacher1", t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Equal(t, ledger.OverrideApproved, decided.Status)

	sess, err := svc.Start(ctx, e.ID, "s1", t0.Add(4*time.Minute))
	require.NoError(t, err)
	require.True(t, sess.Retake)

	_, err = svc.GetAttempt(ctx, first.ID)
	require.True(t, errors.Is(err, exam.ErrNotFound))

	second, err := svc.Submit(ctx, proctor.SubmitInput{
		ExamID: e.ID, UserID: "s1",
		Answers: map[exam.QuestionID]exam.Label{"q1": exam.LabelA, "q2": exam.LabelB, "q3": exam.LabelC},
	}, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 100.0, second.Percentage)

	// consumed: a fresh start is denied again
	_, err = svc.Start(ctx, e.ID, "s1", t0.Add(6*time.Minute))
	require.True(t, errors.Is(err, exam.ErrDenied))

	evs, err := events.List(ctx, 0, 0)
	require.NoError(t, err)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{
		syncx.TypeAttemptRecorded,
		syncx.TypeOverrideRequested,
		syncx.TypeOverrideDecided,
		syncx.TypeOverrideConsumed,
		syncx.TypeAttemptRecorded,
	}, types)
}

func TestRejectedRetakeKeepsAttempt(t *testing.T) {
	svc, _ := newService(t)
	e := create(t, svc, sampleExam())
	ctx := context.Background()

	a, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0)
	require.NoError(t, err)
	req, err := svc.RequestRetake(ctx, e.ID, "s1", "sick", t0)
	require.NoError(t, err)
	_, err = svc.DecideRetake(ctx, req.ID, false, "no", "teacher1", t0)
	require.NoError(t, err)

	_, err = svc.DecideRetake(ctx, req.ID, true, "changed my mind", "teacher1", t0)
	require.True(t, errors.Is(err, exam.ErrInvalidState))

	_, err = svc.Start(ctx, e.ID, "s1", t0)
	require.True(t, errors.Is(err, exam.ErrDenied))
	_, err = svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
}

func TestRequestRetakeWithoutAttempt(t *testing.T) {
	svc, _ := newService(t)
	e := create(t, svc, sampleExam())

	_, err := svc.RequestRetake(context.Background(), e.ID, "s1", "please", t0)
	require.True(t, errors.Is(err, exam.ErrInvalidState))

	_, err = svc.RequestRetake(context.Background(), "missing", "s1", "please", t0)
	require.True(t, errors.Is(err, exam.ErrNotFound))
}

func TestSubmitRestrictedExam(t *testing.T) {
	svc, _ := newService(t)
	in := sampleExam()
	in.Visibility = exam.VisibilityRestricted
	in.AuthorizedUsers = []string{"s1"}
	e := create(t, svc, in)
	ctx := context.Background()

	_, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s2"}, t0)
	reason, ok := exam.DenialReason(err)
	require.True(t, ok)
	require.Equal(t, exam.ReasonNotAuthorized, reason)

	_, err = svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0)
	require.NoError(t, err)
}

func TestSubmitAfterScheduledWindow(t *testing.T) {
	svc, _ := newService(t)
	in := sampleExam()
	start, end := t0, t0.Add(time.Hour)
	in.Timing, in.StartsAt, in.EndsAt = exam.TimingScheduled, &start, &end
	e := create(t, svc, in)
	ctx := context.Background()

	// a sitting started at the last moment may still hand in within the allowance
	_, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, end.Add(90*time.Second))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s2"}, end.Add(91*time.Second))
	reason, _ := exam.DenialReason(err)
	require.Equal(t, exam.ReasonClosed, reason)
}

func TestResultsSummary(t *testing.T) {
	svc, _ := newService(t)
	e := create(t, svc, sampleExam())
	ctx := context.Background()

	empty, err := svc.Results(ctx, e.ID)
	require.NoError(t, err)
	require.Zero(t, empty.AttemptCount)
	require.Empty(t, empty.Attempts)

	answers := []map[exam.QuestionID]exam.Label{
		{"q1": exam.LabelA},
		{"q1": exam.LabelA, "q2": exam.LabelB},
		{"q1": exam.LabelA, "q2": exam.LabelB, "q3": exam.LabelC},
	}
	for i, a := range answers {
		_, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: string(rune('a' + i)), Answers: a}, t0)
		require.NoError(t, err)
	}
	sum, err := svc.Results(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 3, sum.AttemptCount)
	require.Equal(t, 3, sum.QuestionCount)
	require.Equal(t, 100.0, sum.BestPercentage)
	require.Equal(t, 66.67, sum.AveragePercentage)
}

func TestDeleteExamPurgesRecords(t *testing.T) {
	svc, _ := newService(t)
	e := create(t, svc, sampleExam())
	ctx := context.Background()

	a, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteExam(ctx, e.ID))

	_, err = svc.GetAttempt(ctx, a.ID)
	require.True(t, errors.Is(err, exam.ErrNotFound))
	require.True(t, errors.Is(svc.DeleteExam(ctx, e.ID), exam.ErrNotFound))
}

func TestCreateExamRejectsInvalid(t *testing.T) {
	svc, _ := newService(t)
	in := sampleExam()
	in.Title = ""
	in.Questions[0].Correct = "E"
	_, err := svc.CreateExam(context.Background(), in, "teacher1", t0)
	require.True(t, errors.Is(err, exam.ErrInvalidInput))
	require.Contains(t, err.Error(), "title is required")
	require.Contains(t, err.Error(), "invalid correct label")
}

func TestViewExamChecksAudience(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	open := create(t, svc, sampleExam())
	v, err := svc.ViewExam(ctx, open.ID, "s1")
	require.NoError(t, err)
	require.Equal(t, "Cells", v.Title)
	require.Empty(t, v.Questions)

	restricted := sampleExam()
	restricted.Visibility, restricted.AuthorizedUsers = exam.VisibilityRestricted, []string{"s2"}
	restricted = create(t, svc, restricted)
	_, err = svc.ViewExam(ctx, restricted.ID, "s1")
	reason, ok := exam.DenialReason(err)
	require.True(t, ok)
	require.Equal(t, exam.ReasonNotAuthorized, reason)
	v, err = svc.ViewExam(ctx, restricted.ID, "s2")
	require.NoError(t, err)
	require.Empty(t, v.AuthorizedUsers)

	inactive := sampleExam()
	inactive.Active = false
	inactive = create(t, svc, inactive)
	_, err = svc.ViewExam(ctx, inactive.ID, "s1")
	reason, _ = exam.DenialReason(err)
	require.Equal(t, exam.ReasonInactive, reason)

	_, err = svc.ViewExam(ctx, "missing", "s1")
	require.True(t, errors.Is(err, exam.ErrNotFound))
}

func TestAttemptUnchangedByAnswerKeyEdit(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite,
		"file:"+filepath.Join(t.TempDir(), "proctor.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	svc := proctor.NewService(exam.NewSQLStore(conn), ledger.NewSQLStore(conn), syncx.NewEventRepo(conn, "test"), nil)

	e := create(t, svc, sampleExam())
	a, err := svc.Submit(ctx, proctor.SubmitInput{
		ExamID: e.ID, UserID: "s1",
		Answers: map[exam.QuestionID]exam.Label{"q1": exam.LabelA, "q2": exam.LabelB, "q3": exam.LabelD},
	}, t0)
	require.NoError(t, err)
	before, err := svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, before.CorrectCount)

	// re-import with a different key
	edited := e
	edited.Questions = append([]exam.Question(nil), e.Questions...)
	edited.Questions[0].Correct = exam.LabelC
	edited.Questions[2].Correct = exam.LabelD
	_, err = svc.CreateExam(ctx, edited, "teacher1", t0.Add(time.Hour))
	require.NoError(t, err)
	stored, err := svc.GetExam(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, exam.LabelC, stored.Questions[0].Correct)

	after, err := svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, before.Details, after.Details)
	require.Equal(t, before.CorrectCount, after.CorrectCount)
	require.Equal(t, before.Percentage, after.Percentage)
	require.Equal(t, exam.LabelA, after.Details["q1"].Correct)
	require.True(t, after.Details["q1"].IsCorrect)
}

// lostRace spends the retake request on behalf of a concurrent start before
// letting the caller try.
type lostRace struct {
	ledger.Ledger
}

func (l lostRace) ConsumeOverride(ctx context.Context, requestID, priorAttemptID string) error {
	if err := l.Ledger.ConsumeOverride(ctx, requestID, priorAttemptID); err != nil {
		return err
	}
	return l.Ledger.ConsumeOverride(ctx, requestID, priorAttemptID)
}

func TestStartAfterRetakeConsumedConcurrently(t *testing.T) {
	ctx := context.Background()
	catalog, store := exam.NewInMemoryCatalog(), ledger.NewInMemoryStore()
	svc := proctor.NewService(catalog, lostRace{store}, nil, nil)
	e := create(t, svc, sampleExam())

	first, err := svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0)
	require.NoError(t, err)
	req, err := svc.RequestRetake(ctx, e.ID, "s1", "fire alarm", t0)
	require.NoError(t, err)
	_, err = svc.DecideRetake(ctx, req.ID, true, "ok", "teacher1", t0)
	require.NoError(t, err)

	sess, err := svc.Start(ctx, e.ID, "s1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, sess.Retake)

	_, err = svc.GetAttempt(ctx, first.ID)
	require.True(t, errors.Is(err, exam.ErrNotFound))
	_, err = svc.Submit(ctx, proctor.SubmitInput{ExamID: e.ID, UserID: "s1"}, t0.Add(2*time.Minute))
	require.NoError(t, err)
}
