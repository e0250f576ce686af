package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// POST /exams/{examID}/retake-requests  {"reason":"..."}
func RequestRetakeHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		o, err := svc.RequestRetake(r.Context(), chi.URLParam(r, "examID"), rbac.SubjectFromContext(r.Context()), req.Reason, now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	}
}

// GET /retake-requests?status=pending&exam_id=...
func ListRetakesHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		list, err := svc.ListRetakes(r.Context(), ledger.OverrideFilter{
			ExamID: q.Get("exam_id"),
			UserID: q.Get("user_id"),
			Status: ledger.OverrideStatus(q.Get("status")),
			Limit:  parseIntDefault(q.Get("limit"), 50),
			Offset: parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// POST /retake-requests/{requestID}/decision  {"approve":true,"response":"..."}
func DecideRetakeHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Approve  bool   `json:"approve"`
			Response string `json:"response"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		o, err := svc.DecideRetake(r.Context(), chi.URLParam(r, "requestID"), req.Approve, req.Response,
			rbac.SubjectFromContext(r.Context()), now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// GET /events?after=0&limit=100
func EventsHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		evs, err := svc.Events(r.Context(), after, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, evs)
	}
}
