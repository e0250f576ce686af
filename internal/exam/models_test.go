package exam_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

func TestParseLabel(t *testing.T) {
	for _, s := range []string{"A", "B", "C", "D"} {
		l, err := exam.ParseLabel(s)
		require.NoError(t, err)
		require.Equal(t, exam.Label(s), l)
	}
	for _, s := range []string{"", "a", "E", "AB", " A"} {
		_, err := exam.ParseLabel(s)
		require.True(t, errors.Is(err, exam.ErrInvalidInput), "label %q", s)
	}
}

func TestPrepareOrdersQuestions(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 500, time.UTC)
	e := exam.Exam{Questions: []exam.Question{
		{ID: "q3", Position: 3},
		{ID: "q1", Position: 1},
		{Position: 2},
	}}.Prepare(now)

	require.NotEmpty(t, e.ID)
	require.Equal(t, now.Truncate(time.Second), e.CreatedAt)
	require.Equal(t, exam.QuestionID("q1"), e.Questions[0].ID)
	require.NotEmpty(t, e.Questions[1].ID)
	require.Equal(t, exam.QuestionID("q3"), e.Questions[2].ID)
	for _, q := range e.Questions {
		require.Equal(t, e.ID, q.ExamID)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	e := exam.Exam{
		Visibility:         "hidden",
		Timing:             exam.TimingScheduled,
		StartsAt:           &start,
		EndsAt:             &end,
		SecondsPerQuestion: -1,
		Questions: []exam.Question{
			{ID: "q1", Prompt: "p", Options: [4]string{"a", "b", "c", ""}, Correct: exam.LabelA},
			{ID: "q1", Prompt: "", Options: [4]string{"a", "b", "c", "d"}, Correct: "a"},
		},
	}
	err := e.Validate()
	require.True(t, errors.Is(err, exam.ErrInvalidInput))
	for _, want := range []string{
		"title is required",
		"course_id is required",
		`unknown visibility "hidden"`,
		"starts_at is after ends_at",
		"seconds_per_question must not be negative",
		"option D is empty",
		`duplicate id "q1"`,
		"question 2: prompt is required",
		`invalid correct label "a"`,
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateAcceptsEmptyExam(t *testing.T) {
	e := exam.Exam{Title: "t", CourseID: "c", Visibility: exam.VisibilityOpen, Timing: exam.TimingUnscheduled}
	require.NoError(t, e.Validate())
}

func TestWithoutAnswers(t *testing.T) {
	e := exam.Exam{
		AuthorizedUsers: []string{"u1"},
		Questions:       []exam.Question{{ID: "q1", Correct: exam.LabelB}},
	}
	out := e.WithoutAnswers()
	require.Empty(t, out.Questions[0].Correct)
	require.Empty(t, out.AuthorizedUsers)
	require.Equal(t, exam.LabelB, e.Questions[0].Correct)
}

func TestTimeLimit(t *testing.T) {
	e := exam.Exam{SecondsPerQuestion: 45, Questions: make([]exam.Question, 4)}
	require.Equal(t, 3*time.Minute, e.TimeLimit())
	require.Zero(t, exam.Exam{Questions: make([]exam.Question, 4)}.TimeLimit())
}
