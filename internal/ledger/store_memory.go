package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type pairKey struct{ userID, examID string }

// MemoryStore is a Ledger guarded by a single mutex. Every method is one
// critical section, which gives the same atomicity as the SQL transactions.
type MemoryStore struct {
	mu        sync.Mutex
	attempts  map[string]Attempt
	byPair    map[pairKey]string
	overrides map[string]OverrideRequest
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:  map[string]Attempt{},
		byPair:    map[pairKey]string{},
		overrides: map[string]OverrideRequest{},
	}
}

func (m *MemoryStore) RecordAttempt(_ context.Context, userID, examID string, res grading.Result, elapsedSeconds int, now time.Time) (Attempt, error) {
	if userID == "" || examID == "" {
		return Attempt{}, errors.Wrap(exam.ErrInvalidInput, "user and exam are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{userID, examID}
	if _, ok := m.byPair[k]; ok {
		return Attempt{}, errors.Wrapf(exam.ErrDuplicateAttempt, "user %s exam %s", userID, examID)
	}
	a := newAttempt(uuid.NewString(), userID, examID, res, elapsedSeconds, now)
	m.attempts[a.ID] = a
	m.byPair[k] = a.ID
	return cloneAttempt(a), nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, errors.Wrapf(exam.ErrNotFound, "attempt %s", id)
	}
	return cloneAttempt(a), nil
}

func (m *MemoryStore) FindAttempt(_ context.Context, userID, examID string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[pairKey{userID, examID}]
	if !ok {
		return Attempt{}, errors.Wrapf(exam.ErrNotFound, "attempt of user %s exam %s", userID, examID)
	}
	return cloneAttempt(m.attempts[id]), nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, f AttemptFilter) ([]Attempt, error) {
	m.mu.Lock()
	out := make([]Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		if (f.ExamID == "" || a.ExamID == f.ExamID) && (f.UserID == "" || a.UserID == f.UserID) {
			out = append(out, cloneAttempt(a))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return exam.Page(out, f.Limit, f.Offset), nil
}

func (m *MemoryStore) RequestOverride(_ context.Context, userID, examID, reason string, now time.Time) (OverrideRequest, error) {
	if err := validateRequest(userID, examID, reason); err != nil {
		return OverrideRequest{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.overrides {
		if o.UserID == userID && o.ExamID == examID && o.Status == OverridePending {
			return OverrideRequest{}, errors.Wrapf(exam.ErrDuplicatePendingRequest, "user %s exam %s", userID, examID)
		}
	}
	o := OverrideRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		ExamID:      examID,
		Reason:      strings.TrimSpace(reason),
		Status:      OverridePending,
		RequestedAt: now.UTC().Truncate(time.Second),
	}
	m.overrides[o.ID] = o
	return o, nil
}

func (m *MemoryStore) DecideOverride(_ context.Context, requestID string, approve bool, staffResponse string, now time.Time) (OverrideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[requestID]
	if !ok {
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "retake request %s", requestID)
	}
	if o.Status != OverridePending {
		return OverrideRequest{}, errors.Wrapf(exam.ErrInvalidState, "retake request %s is %s", requestID, o.Status)
	}
	o.Status = OverrideRejected
	if approve {
		o.Status = OverrideApproved
	}
	decided := now.UTC().Truncate(time.Second)
	o.Response, o.DecidedAt = strings.TrimSpace(staffResponse), &decided
	m.overrides[requestID] = o
	return o, nil
}

func (m *MemoryStore) ConsumeOverride(_ context.Context, requestID, priorAttemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[requestID]
	if !ok {
		return errors.Wrapf(exam.ErrNotFound, "retake request %s", requestID)
	}
	if o.Status != OverrideApproved {
		return errors.Wrapf(exam.ErrInvalidState, "retake request %s is %s", requestID, o.Status)
	}
	a, ok := m.attempts[priorAttemptID]
	if !ok {
		return errors.Wrapf(exam.ErrNotFound, "attempt %s", priorAttemptID)
	}
	if a.UserID != o.UserID || a.ExamID != o.ExamID {
		return errors.Wrapf(exam.ErrInvalidState, "attempt %s does not belong to retake request %s", priorAttemptID, requestID)
	}
	delete(m.overrides, requestID)
	delete(m.attempts, priorAttemptID)
	delete(m.byPair, pairKey{a.UserID, a.ExamID})
	return nil
}

func (m *MemoryStore) GetOverride(_ context.Context, id string) (OverrideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[id]
	if !ok {
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "retake request %s", id)
	}
	return o, nil
}

func (m *MemoryStore) FindOverride(_ context.Context, userID, examID string, status OverrideStatus) (OverrideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		found OverrideRequest
		ok    bool
	)
	for _, o := range m.overrides {
		if o.UserID != userID || o.ExamID != examID || o.Status != status {
			continue
		}
		if !ok || o.RequestedAt.After(found.RequestedAt) {
			found, ok = o, true
		}
	}
	if !ok {
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "%s retake request of user %s exam %s", status, userID, examID)
	}
	return found, nil
}

func (m *MemoryStore) ListOverrides(_ context.Context, f OverrideFilter) ([]OverrideRequest, error) {
	m.mu.Lock()
	out := make([]OverrideRequest, 0, len(m.overrides))
	for _, o := range m.overrides {
		if (f.ExamID == "" || o.ExamID == f.ExamID) && (f.UserID == "" || o.UserID == f.UserID) &&
			(f.Status == "" || o.Status == f.Status) {
			out = append(out, o)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return exam.Page(out, f.Limit, f.Offset), nil
}

// PurgeExam drops everything recorded for an exam. The SQL store gets the
// same effect from ON DELETE CASCADE.
func (m *MemoryStore) PurgeExam(_ context.Context, examID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.attempts {
		if a.ExamID == examID {
			delete(m.attempts, id)
			delete(m.byPair, pairKey{a.UserID, a.ExamID})
		}
	}
	for id, o := range m.overrides {
		if o.ExamID == examID {
			delete(m.overrides, id)
		}
	}
	return nil
}

func cloneAttempt(a Attempt) Attempt {
	details := make(map[exam.QuestionID]grading.AnswerDetail, len(a.Details))
	for k, v := range a.Details {
		details[k] = v
	}
	a.Details = details
	return a
}

func validateRequest(userID, examID, reason string) error {
	if userID == "" || examID == "" {
		return errors.Wrap(exam.ErrInvalidInput, "user and exam are required")
	}
	if strings.TrimSpace(reason) == "" {
		return errors.Wrap(exam.ErrInvalidInput, "reason is required")
	}
	return nil
}
