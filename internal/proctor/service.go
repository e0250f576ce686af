// Package proctor runs the exam flow: eligibility, starting a sitting,
// scoring a submission and the retake request workflow.
package proctor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/syncx"
)

type Service struct {
	exams  exam.Catalog
	ledger ledger.Ledger
	events syncx.Log
	log    *slog.Logger
}

func NewService(exams exam.Catalog, l ledger.Ledger, events syncx.Log, log *slog.Logger) *Service {
	if events == nil {
		events = syncx.NewMemoryLog()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{exams: exams, ledger: l, events: events, log: log}
}

// Session is what a student gets when a sitting starts.
type Session struct {
	Exam      exam.Exam  `json:"exam"`
	StartedAt time.Time  `json:"started_at"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Retake    bool       `json:"retake"`
}

type SubmitInput struct {
	ExamID         string
	UserID         string
	Answers        map[exam.QuestionID]exam.Label
	ElapsedSeconds int
}

type Summary struct {
	ExamID            string           `json:"exam_id"`
	Title             string           `json:"title"`
	QuestionCount     int              `json:"question_count"`
	AttemptCount      int              `json:"attempt_count"`
	AveragePercentage float64          `json:"average_percentage"`
	BestPercentage    float64          `json:"best_percentage"`
	Attempts          []ledger.Attempt `json:"attempts"`
}

func (s *Service) CreateExam(ctx context.Context, e exam.Exam, createdBy string, now time.Time) (exam.Exam, error) {
	e.CreatedBy = createdBy
	e = e.Prepare(now)
	if err := e.Validate(); err != nil {
		return exam.Exam{}, err
	}
	if err := s.exams.PutExam(ctx, e); err != nil {
		return exam.Exam{}, errors.Wrapf(err, "store exam %s", e.ID)
	}
	s.log.InfoContext(ctx, "exam created",
		slog.String("exam_id", e.ID), slog.String("course_id", e.CourseID),
		slog.Int("questions", len(e.Questions)), slog.String("by", createdBy))
	return e, nil
}

func (s *Service) GetExam(ctx context.Context, examID string) (exam.Exam, error) {
	return s.exams.GetExam(ctx, examID)
}

// ViewExam returns what a student may see before starting: the exam without
// answers or questions. Restricted exams the user is not listed on and
// inactive exams are denied.
func (s *Service) ViewExam(ctx context.Context, examID, userID string) (exam.Exam, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return exam.Exam{}, err
	}
	if err := exam.CanView(e, userID).Err(); err != nil {
		return exam.Exam{}, err
	}
	e = e.WithoutAnswers()
	e.Questions = nil
	return e, nil
}

func (s *Service) ListExams(ctx context.Context, opts exam.ListOpts) ([]exam.ExamSummary, error) {
	return s.exams.ListExams(ctx, opts)
}

type examPurger interface {
	PurgeExam(ctx context.Context, examID string) error
}

// DeleteExam removes the exam with its questions, attempts and retake
// requests.
func (s *Service) DeleteExam(ctx context.Context, examID string) error {
	if err := s.exams.DeleteExam(ctx, examID); err != nil {
		return err
	}
	if p, ok := s.ledger.(examPurger); ok {
		if err := p.PurgeExam(ctx, examID); err != nil {
			return errors.Wrapf(err, "purge records of exam %s", examID)
		}
	}
	s.log.InfoContext(ctx, "exam deleted", slog.String("exam_id", examID))
	return nil
}

func (s *Service) SetQuestionImage(ctx context.Context, examID string, questionID exam.QuestionID, key string) error {
	return s.exams.SetQuestionImage(ctx, examID, questionID, key)
}

func (s *Service) records(ctx context.Context, examID, userID string) (exam.Records, error) {
	var rec exam.Records
	a, err := s.ledger.FindAttempt(ctx, userID, examID)
	switch {
	case errors.Is(err, exam.ErrNotFound):
		return rec, nil
	case err != nil:
		return rec, err
	}
	rec.PriorAttemptID = a.ID
	o, err := s.ledger.FindOverride(ctx, userID, examID, ledger.OverrideApproved)
	switch {
	case errors.Is(err, exam.ErrNotFound):
	case err != nil:
		return rec, err
	default:
		rec.ApprovedOverrideID = o.ID
	}
	return rec, nil
}

// Access reports whether userID may start the exam at now.
func (s *Service) Access(ctx context.Context, examID, userID string, now time.Time) (exam.Decision, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return exam.Decision{}, err
	}
	rec, err := s.records(ctx, examID, userID)
	if err != nil {
		return exam.Decision{}, err
	}
	return exam.CanStart(e, userID, now, rec), nil
}

// Start opens a sitting. An approved retake request is consumed here, together
// with the attempt it replaces.
func (s *Service) Start(ctx context.Context, examID, userID string, now time.Time) (Session, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return Session{}, err
	}
	rec, err := s.records(ctx, examID, userID)
	if err != nil {
		return Session{}, err
	}
	d := exam.CanStart(e, userID, now, rec)
	if err := d.Err(); err != nil {
		s.log.InfoContext(ctx, "start denied",
			slog.String("exam_id", examID), slog.String("user_id", userID), slog.String("reason", string(d.Reason)))
		return Session{}, err
	}
	if d.ConsumeOverride {
		if err := s.consume(ctx, e, userID, now, d); err != nil {
			return Session{}, err
		}
	}

	sess := Session{Exam: e.WithoutAnswers(), StartedAt: now.UTC(), Retake: d.ConsumeOverride}
	if limit := e.TimeLimit(); limit > 0 {
		deadline := now.UTC().Add(limit)
		sess.Deadline = &deadline
	}
	s.log.InfoContext(ctx, "sitting started",
		slog.String("exam_id", examID), slog.String("user_id", userID), slog.Bool("retake", sess.Retake))
	return sess, nil
}

// consume spends an approved retake request. When a concurrent start already
// spent it, the records are read again: with the prior attempt gone the
// sitting may proceed.
func (s *Service) consume(ctx context.Context, e exam.Exam, userID string, now time.Time, d exam.Decision) error {
	err := s.ledger.ConsumeOverride(ctx, d.OverrideID, d.PriorAttemptID)
	if err == nil {
		s.audit(ctx, syncx.TypeOverrideConsumed, d.OverrideID, map[string]string{
			"exam_id": e.ID, "user_id": userID, "attempt_id": d.PriorAttemptID,
		})
		return nil
	}
	if !errors.Is(err, exam.ErrNotFound) && !errors.Is(err, exam.ErrInvalidState) {
		return errors.Wrap(err, "consume retake request")
	}
	rec, rerr := s.records(ctx, e.ID, userID)
	if rerr != nil {
		return rerr
	}
	if again := exam.CanStart(e, userID, now, rec); again.Allowed && !again.ConsumeOverride {
		s.log.InfoContext(ctx, "retake request already consumed",
			slog.String("exam_id", e.ID), slog.String("user_id", userID), slog.String("request_id", d.OverrideID))
		return nil
	}
	return errors.Wrapf(exam.ErrInvalidState, "consume retake request %s: %v", d.OverrideID, err)
}

// Submit scores the answers and records the attempt.
func (s *Service) Submit(ctx context.Context, in SubmitInput, now time.Time) (ledger.Attempt, error) {
	e, err := s.exams.GetExam(ctx, in.ExamID)
	if err != nil {
		return ledger.Attempt{}, err
	}
	if err := exam.CanSubmit(e, in.UserID, now).Err(); err != nil {
		return ledger.Attempt{}, err
	}
	res := grading.Score(e.Questions, in.Answers, in.ElapsedSeconds)
	a, err := s.ledger.RecordAttempt(ctx, in.UserID, in.ExamID, res, in.ElapsedSeconds, now)
	if err != nil {
		return ledger.Attempt{}, err
	}
	s.audit(ctx, syncx.TypeAttemptRecorded, a.ID, map[string]any{
		"exam_id": a.ExamID, "user_id": a.UserID, "correct": a.CorrectCount,
		"total": a.TotalQuestions, "percentage": a.Percentage,
	})
	s.log.InfoContext(ctx, "attempt recorded",
		slog.String("attempt_id", a.ID), slog.String("exam_id", a.ExamID), slog.String("user_id", a.UserID),
		slog.Int("correct", a.CorrectCount), slog.Int("total", a.TotalQuestions))
	return a, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID string) (ledger.Attempt, error) {
	return s.ledger.GetAttempt(ctx, attemptID)
}

func (s *Service) ListAttempts(ctx context.Context, f ledger.AttemptFilter) ([]ledger.Attempt, error) {
	return s.ledger.ListAttempts(ctx, f)
}

// RequestRetake asks staff for one more attempt. Only a student who already
// has an attempt may ask.
func (s *Service) RequestRetake(ctx context.Context, examID, userID, reason string, now time.Time) (ledger.OverrideRequest, error) {
	if _, err := s.exams.GetExam(ctx, examID); err != nil {
		return ledger.OverrideRequest{}, err
	}
	if _, err := s.ledger.FindAttempt(ctx, userID, examID); err != nil {
		if errors.Is(err, exam.ErrNotFound) {
			return ledger.OverrideRequest{}, errors.Wrap(exam.ErrInvalidState, "no attempt to retake")
		}
		return ledger.OverrideRequest{}, err
	}
	o, err := s.ledger.RequestOverride(ctx, userID, examID, reason, now)
	if err != nil {
		return ledger.OverrideRequest{}, err
	}
	s.audit(ctx, syncx.TypeOverrideRequested, o.ID, map[string]string{"exam_id": examID, "user_id": userID})
	return o, nil
}

func (s *Service) DecideRetake(ctx context.Context, requestID string, approve bool, response, decidedBy string, now time.Time) (ledger.OverrideRequest, error) {
	o, err := s.ledger.DecideOverride(ctx, requestID, approve, response, now)
	if err != nil {
		return ledger.OverrideRequest{}, err
	}
	s.audit(ctx, syncx.TypeOverrideDecided, o.ID, map[string]string{
		"exam_id": o.ExamID, "user_id": o.UserID, "status": string(o.Status), "by": decidedBy,
	})
	s.log.InfoContext(ctx, "retake request decided",
		slog.String("request_id", o.ID), slog.String("status", string(o.Status)), slog.String("by", decidedBy))
	return o, nil
}

func (s *Service) ListRetakes(ctx context.Context, f ledger.OverrideFilter) ([]ledger.OverrideRequest, error) {
	return s.ledger.ListOverrides(ctx, f)
}

// Results aggregates every attempt of an exam.
func (s *Service) Results(ctx context.Context, examID string) (Summary, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return Summary{}, err
	}
	attempts, err := s.ledger.ListAttempts(ctx, ledger.AttemptFilter{ExamID: examID})
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		ExamID:        e.ID,
		Title:         e.Title,
		QuestionCount: len(e.Questions),
		AttemptCount:  len(attempts),
		Attempts:      attempts,
	}
	if len(attempts) == 0 {
		return sum, nil
	}
	var total float64
	for _, a := range attempts {
		total += a.Percentage
		if a.Percentage > sum.BestPercentage {
			sum.BestPercentage = a.Percentage
		}
	}
	sum.AveragePercentage = math.Round(total/float64(len(attempts))*100) / 100
	return sum, nil
}

func (s *Service) Events(ctx context.Context, afterOffset int64, limit int) ([]syncx.Event, error) {
	return s.events.List(ctx, afterOffset, limit)
}

// audit failures are logged; the operation they describe already happened.
func (s *Service) audit(ctx context.Context, typ, key string, payload any) {
	ev, err := syncx.NewEvent(typ, key, payload)
	if err == nil {
		err = s.events.Append(ctx, ev)
	}
	if err != nil {
		s.log.WarnContext(ctx, "audit event dropped", slog.String("type", typ), slog.String("key", key), slog.Any("err", err))
	}
}
