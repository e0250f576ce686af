// Package ledger keeps submitted attempts and retake (override) requests.
//
// There is at most one attempt per (user, exam). A second attempt needs an
// approved override request, which is consumed together with the old attempt.
package ledger

import (
	"context"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type Attempt struct {
	ID             string                                   `json:"id"`
	UserID         string                                   `json:"user_id"`
	ExamID         string                                   `json:"exam_id"`
	CorrectCount   int                                      `json:"correct_count"`
	IncorrectCount int                                      `json:"incorrect_count"`
	TotalQuestions int                                      `json:"total_questions"`
	Percentage     float64                                  `json:"percentage"`
	ElapsedSeconds int                                      `json:"elapsed_seconds"`
	Details        map[exam.QuestionID]grading.AnswerDetail `json:"details"`
	SubmittedAt    time.Time                                `json:"submitted_at"`
}

type OverrideStatus string

const (
	OverridePending  OverrideStatus = "pending"
	OverrideApproved OverrideStatus = "approved"
	OverrideRejected OverrideStatus = "rejected"
)

type OverrideRequest struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ExamID      string         `json:"exam_id"`
	Reason      string         `json:"reason"`
	Status      OverrideStatus `json:"status"`
	Response    string         `json:"response,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

type AttemptFilter struct {
	ExamID string
	UserID string
	Limit  int
	Offset int
}

type OverrideFilter struct {
	ExamID string
	UserID string
	Status OverrideStatus
	Limit  int
	Offset int
}

type Ledger interface {
	// RecordAttempt fails with exam.ErrDuplicateAttempt when the pair already
	// has an attempt. It never consumes overrides.
	RecordAttempt(ctx context.Context, userID, examID string, res grading.Result, elapsedSeconds int, now time.Time) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	FindAttempt(ctx context.Context, userID, examID string) (Attempt, error)
	ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error)

	RequestOverride(ctx context.Context, userID, examID, reason string, now time.Time) (OverrideRequest, error)
	// DecideOverride moves a pending request to approved or rejected, once.
	DecideOverride(ctx context.Context, requestID string, approve bool, staffResponse string, now time.Time) (OverrideRequest, error)
	// ConsumeOverride deletes an approved request and the attempt it
	// supersedes, both or neither.
	ConsumeOverride(ctx context.Context, requestID, priorAttemptID string) error
	GetOverride(ctx context.Context, id string) (OverrideRequest, error)
	FindOverride(ctx context.Context, userID, examID string, status OverrideStatus) (OverrideRequest, error)
	ListOverrides(ctx context.Context, f OverrideFilter) ([]OverrideRequest, error)
}

func newAttempt(id, userID, examID string, res grading.Result, elapsedSeconds int, now time.Time) Attempt {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	details := make(map[exam.QuestionID]grading.AnswerDetail, len(res.Details))
	for k, v := range res.Details {
		details[k] = v
	}
	return Attempt{
		ID:             id,
		UserID:         userID,
		ExamID:         examID,
		CorrectCount:   res.Correct,
		IncorrectCount: res.Incorrect,
		TotalQuestions: res.Total,
		Percentage:     res.Percentage,
		ElapsedSeconds: elapsedSeconds,
		Details:        details,
		SubmittedAt:    now.UTC().Truncate(time.Second),
	}
}
