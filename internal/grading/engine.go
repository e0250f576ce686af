package grading

import (
	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// AnswerDetail records how one question was answered at submission time.
type AnswerDetail struct {
	Selected  *exam.Label `json:"selected"` // nil when unanswered
	Correct   exam.Label  `json:"correct"`
	IsCorrect bool        `json:"is_correct"`
}

// Result is the outcome of scoring one submission.
type Result struct {
	Correct        int                              `json:"correct"`
	Incorrect      int                              `json:"incorrect"`
	Total          int                              `json:"total"`
	Percentage     float64                          `json:"percentage"`
	ElapsedSeconds int                              `json:"elapsed_seconds"`
	Details        map[exam.QuestionID]AnswerDetail `json:"details"`
}

func (r Result) Minutes() int { return r.ElapsedSeconds / 60 }
func (r Result) Seconds() int { return r.ElapsedSeconds % 60 }

// Score grades answers against every question of the exam. Unanswered
// questions count as incorrect; answers to unknown question ids are ignored.
func Score(questions []exam.Question, answers map[exam.QuestionID]exam.Label, elapsedSeconds int) Result {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	res := Result{
		Total:          len(questions),
		ElapsedSeconds: elapsedSeconds,
		Details:        make(map[exam.QuestionID]AnswerDetail, len(questions)),
	}
	for _, q := range questions {
		d := AnswerDetail{Correct: q.Correct}
		if sel, ok := answers[q.ID]; ok {
			sel := sel
			d.Selected = &sel
			d.IsCorrect = sel == q.Correct
		}
		if d.IsCorrect {
			res.Correct++
		}
		res.Details[q.ID] = d
	}
	res.Incorrect = res.Total - res.Correct
	res.Percentage = Percentage(res.Correct, res.Total)
	return res
}

// Percentage is correct/total*100 rounded half-up to two decimals, or 0 for
// an empty exam. Integer arithmetic keeps x.xx5 cases exact.
func Percentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	hundredths := (2*int64(correct)*10000 + int64(total)) / (2 * int64(total))
	return float64(hundredths) / 100
}
