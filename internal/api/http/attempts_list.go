package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// GET /attempts?exam_id=...&user_id=...&limit=50&offset=0
// Without attempt:view-all the user_id filter is forced to the caller.
func ListAttemptsHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := ledger.AttemptFilter{
			ExamID: strings.TrimSpace(q.Get("exam_id")),
			UserID: strings.TrimSpace(q.Get("user_id")),
			Limit:  parseIntDefault(q.Get("limit"), 50),
			Offset: parseIntDefault(q.Get("offset"), 0),
		}
		if !rbac.Can(r.Context(), rbac.PermAttemptViewAll) {
			f.UserID = rbac.SubjectFromContext(r.Context())
		}
		list, err := svc.ListAttempts(r.Context(), f)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		out := make([]attemptView, 0, len(list))
		for _, a := range list {
			out = append(out, viewAttempt(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /exams/{examID}/results
func ResultsHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.Results(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}
