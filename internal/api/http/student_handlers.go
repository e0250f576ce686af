package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// GET /exams/{examID}
// Staff get the full exam (answers only with exam:view-answers). Everyone else
// gets the description, and only when the exam is visible to them; questions
// come from /start.
func GetExamHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		if !rbac.Can(r.Context(), rbac.PermExamCreate) {
			e, err := svc.ViewExam(r.Context(), examID, rbac.SubjectFromContext(r.Context()))
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			writeJSON(w, http.StatusOK, e)
			return
		}
		e, err := svc.GetExam(r.Context(), examID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if !rbac.Can(r.Context(), rbac.PermExamViewAnswers) {
			e = e.WithoutAnswers()
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// GET /exams/{examID}/access
func AccessHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Access(r.Context(), chi.URLParam(r, "examID"), rbac.SubjectFromContext(r.Context()), now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		out := map[string]any{"allowed": d.Allowed, "retake": d.ConsumeOverride}
		if !d.Allowed {
			out["reason"], out["message"] = d.Reason, d.Reason.Message()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /exams/{examID}/start
func StartHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Start(r.Context(), chi.URLParam(r, "examID"), rbac.SubjectFromContext(r.Context()), now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// POST /exams/{examID}/submit  {"answers":{"q1":"A"},"elapsed_seconds":95}
func SubmitHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answers        map[string]string `json:"answers"`
			ElapsedSeconds int               `json:"elapsed_seconds"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		answers := make(map[exam.QuestionID]exam.Label, len(req.Answers))
		for qid, raw := range req.Answers {
			l, err := exam.ParseLabel(raw)
			if err != nil {
				writeError(w, r, log, errors.Wrapf(err, "question %s", qid))
				return
			}
			answers[exam.QuestionID(qid)] = l
		}
		a, err := svc.Submit(r.Context(), proctor.SubmitInput{
			ExamID:         chi.URLParam(r, "examID"),
			UserID:         rbac.SubjectFromContext(r.Context()),
			Answers:        answers,
			ElapsedSeconds: req.ElapsedSeconds,
		}, now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewAttempt(a))
	}
}

type attemptView struct {
	ledger.Attempt
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func viewAttempt(a ledger.Attempt) attemptView {
	return attemptView{Attempt: a, Minutes: a.ElapsedSeconds / 60, Seconds: a.ElapsedSeconds % 60}
}

// GET /attempts/{attemptID}; owners or attempt:view-all
func GetAttemptHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if a.UserID != rbac.SubjectFromContext(r.Context()) && !rbac.Can(r.Context(), rbac.PermAttemptViewAll) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, viewAttempt(a))
	}
}
