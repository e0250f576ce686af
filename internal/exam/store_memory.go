package exam

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type memoryCatalog struct {
	mu    sync.RWMutex
	exams map[string]Exam
}

func NewInMemoryCatalog() Catalog {
	return &memoryCatalog{exams: map[string]Exam{}}
}

func (m *memoryCatalog) PutExam(_ context.Context, e Exam) error {
	if e.ID == "" {
		return errors.Wrap(ErrInvalidInput, "exam id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = cloneExam(e)
	return nil
}

func (m *memoryCatalog) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, errors.Wrapf(ErrNotFound, "exam %s", id)
	}
	return cloneExam(e), nil
}

func (m *memoryCatalog) ListExams(_ context.Context, opts ListOpts) ([]ExamSummary, error) {
	m.mu.RLock()
	out := make([]ExamSummary, 0, len(m.exams))
	created := make(map[string]int64, len(m.exams))
	for _, e := range m.exams {
		if opts.CourseID != "" && e.CourseID != opts.CourseID {
			continue
		}
		if opts.ActiveOnly && !e.Active {
			continue
		}
		if opts.Viewer != "" && e.Visibility == VisibilityRestricted && !e.IsAuthorized(opts.Viewer) {
			continue
		}
		out = append(out, e.Summary())
		created[e.ID] = e.CreatedAt.UnixNano()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if created[out[i].ID] != created[out[j].ID] {
			return created[out[i].ID] > created[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return Page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryCatalog) DeleteExam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[id]; !ok {
		return errors.Wrapf(ErrNotFound, "exam %s", id)
	}
	delete(m.exams, id)
	return nil
}

func (m *memoryCatalog) SetQuestionImage(_ context.Context, examID string, questionID QuestionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[examID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "exam %s", examID)
	}
	for i := range e.Questions {
		if e.Questions[i].ID == questionID {
			e.Questions[i].ImageKey = key
			m.exams[examID] = e
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "question %s", questionID)
}

func cloneExam(e Exam) Exam {
	e.Questions = append([]Question(nil), e.Questions...)
	e.AuthorizedUsers = append([]string(nil), e.AuthorizedUsers...)
	return e
}
