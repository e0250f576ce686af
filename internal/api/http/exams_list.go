package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// GET /exams?course_id=...&active=1&limit=50&offset=0
// Callers without exam:create only see active exams, and restricted ones only
// when they are on the list.
func ListExamsHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := exam.ListOpts{
			CourseID:   strings.TrimSpace(q.Get("course_id")),
			ActiveOnly: q.Get("active") == "1" || q.Get("active") == "true",
			Limit:      parseIntDefault(q.Get("limit"), 50),
			Offset:     parseIntDefault(q.Get("offset"), 0),
		}
		if !rbac.Can(r.Context(), rbac.PermExamCreate) {
			opts.ActiveOnly = true
			opts.Viewer = rbac.SubjectFromContext(r.Context())
		}
		list, err := svc.ListExams(r.Context(), opts)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
