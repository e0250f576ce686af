package exam

import "context"

type ListOpts struct {
	CourseID   string
	ActiveOnly bool
	// Viewer, when set, hides restricted exams that do not list this user.
	Viewer string
	Limit      int
	Offset     int
}

// Catalog persists exams together with their questions. Questions come back
// ordered by Position.
type Catalog interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)
	ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error)
	// DeleteExam cascades to questions, attempts and retake requests.
	DeleteExam(ctx context.Context, id string) error
	SetQuestionImage(ctx context.Context, examID string, questionID QuestionID, key string) error
}
