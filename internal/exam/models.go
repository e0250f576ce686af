package exam

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Label is one of the four answer options of a question.
type Label string

const (
	LabelA Label = "A"
	LabelB Label = "B"
	LabelC Label = "C"
	LabelD Label = "D"
)

// Labels lists the option labels in display order.
var Labels = [4]Label{LabelA, LabelB, LabelC, LabelD}

// ParseLabel is case-sensitive: "a" is not a valid label.
func ParseLabel(s string) (Label, error) {
	switch l := Label(s); l {
	case LabelA, LabelB, LabelC, LabelD:
		return l, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unknown answer label %q", s)
	}
}

func (l Label) Valid() bool {
	_, err := ParseLabel(string(l))
	return err == nil
}

type Visibility string

const (
	VisibilityOpen       Visibility = "open"
	VisibilityRestricted Visibility = "restricted"
)

type TimingMode string

const (
	TimingUnscheduled TimingMode = "unscheduled"
	TimingScheduled   TimingMode = "scheduled"
)

type QuestionID string

type Question struct {
	ID       QuestionID `json:"id" yaml:"id"`
	ExamID   string     `json:"exam_id,omitempty" yaml:"-"`
	Position int        `json:"position" yaml:"position"`
	Prompt   string     `json:"prompt" yaml:"prompt"`
	ImageKey string     `json:"image_key,omitempty" yaml:"image_key,omitempty"`
	Options  [4]string  `json:"options" yaml:"options"` // A..D
	Correct  Label      `json:"correct,omitempty" yaml:"correct"`
}

// Option returns the option text for a label.
func (q Question) Option(l Label) string {
	for i, x := range Labels {
		if x == l {
			return q.Options[i]
		}
	}
	return ""
}

type Exam struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	CourseID           string     `json:"course_id" yaml:"course_id"`
	Visibility         Visibility `json:"visibility" yaml:"visibility"`
	Timing             TimingMode `json:"timing" yaml:"timing"`
	StartsAt           *time.Time `json:"starts_at,omitempty" yaml:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty" yaml:"ends_at,omitempty"`
	SecondsPerQuestion int        `json:"seconds_per_question" yaml:"seconds_per_question"`
	AuthorizedUsers    []string   `json:"authorized_users,omitempty" yaml:"authorized_users,omitempty"`
	Active             bool       `json:"active" yaml:"active"`
	CreatedBy          string     `json:"created_by,omitempty" yaml:"-"`
	CreatedAt          time.Time  `json:"created_at" yaml:"-"`
	Questions          []Question `json:"questions,omitempty" yaml:"questions"`
}

// ExamSummary is the list view of an exam.
type ExamSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	CourseID      string     `json:"course_id"`
	Visibility    Visibility `json:"visibility"`
	Timing        TimingMode `json:"timing"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	Active        bool       `json:"active"`
	QuestionCount int        `json:"question_count"`
}

func (e Exam) Summary() ExamSummary {
	return ExamSummary{
		ID:            e.ID,
		Title:         e.Title,
		CourseID:      e.CourseID,
		Visibility:    e.Visibility,
		Timing:        e.Timing,
		StartsAt:      e.StartsAt,
		EndsAt:        e.EndsAt,
		Active:        e.Active,
		QuestionCount: len(e.Questions),
	}
}

// TimeLimit is the overall allowance for one sitting; zero means unlimited.
func (e Exam) TimeLimit() time.Duration {
	return time.Duration(e.SecondsPerQuestion*len(e.Questions)) * time.Second
}

func (e Exam) IsAuthorized(userID string) bool {
	for _, u := range e.AuthorizedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// WithoutAnswers returns a copy safe to show to students.
func (e Exam) WithoutAnswers() Exam {
	qs := make([]Question, len(e.Questions))
	copy(qs, e.Questions)
	for i := range qs {
		qs[i].Correct = ""
	}
	e.Questions = qs
	e.AuthorizedUsers = nil
	return e
}

// Prepare fills in missing ids, links questions to the exam and orders them
// by Position. Questions without a position keep their input order.
func (e Exam) Prepare(now time.Time) Exam {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC().Truncate(time.Second)
	}
	qs := make([]Question, len(e.Questions))
	copy(qs, e.Questions)
	for i := range qs {
		if qs[i].ID == "" {
			qs[i].ID = QuestionID(uuid.NewString())
		}
		if qs[i].Position == 0 {
			qs[i].Position = i + 1
		}
		qs[i].ExamID = e.ID
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })
	e.Questions = qs
	return e
}

// Validate reports every problem found, not only the first one.
func (e Exam) Validate() error {
	var errs *multierror.Error
	if strings.TrimSpace(e.Title) == "" {
		errs = multierror.Append(errs, errors.New("title is required"))
	}
	if strings.TrimSpace(e.CourseID) == "" {
		errs = multierror.Append(errs, errors.New("course_id is required"))
	}
	switch e.Visibility {
	case VisibilityOpen, VisibilityRestricted:
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown visibility %q", e.Visibility))
	}
	switch e.Timing {
	case TimingUnscheduled:
	case TimingScheduled:
		if e.StartsAt == nil || e.EndsAt == nil {
			errs = multierror.Append(errs, errors.New("scheduled exam needs starts_at and ends_at"))
		} else if e.StartsAt.After(*e.EndsAt) {
			errs = multierror.Append(errs, errors.New("starts_at is after ends_at"))
		}
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown timing %q", e.Timing))
	}
	if e.SecondsPerQuestion < 0 {
		errs = multierror.Append(errs, errors.New("seconds_per_question must not be negative"))
	}
	seen := make(map[QuestionID]struct{}, len(e.Questions))
	for i, q := range e.Questions {
		if q.ID != "" {
			if _, dup := seen[q.ID]; dup {
				errs = multierror.Append(errs, errors.Errorf("question %d: duplicate id %q", i+1, q.ID))
			}
			seen[q.ID] = struct{}{}
		}
		if strings.TrimSpace(q.Prompt) == "" {
			errs = multierror.Append(errs, errors.Errorf("question %d: prompt is required", i+1))
		}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				errs = multierror.Append(errs, errors.Errorf("question %d: option %s is empty", i+1, Labels[j]))
			}
		}
		if !q.Correct.Valid() {
			errs = multierror.Append(errs, errors.Errorf("question %d: invalid correct label %q", i+1, q.Correct))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}
	return nil
}
