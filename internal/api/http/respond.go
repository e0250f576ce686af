package http

import (
	"log/slog"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Denials carry their reason
// so the client can show it.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if reason, ok := exam.DenialReason(err); ok {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "denied",
			"reason":  string(reason),
			"message": reason.Message(),
		})
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exam.ErrInvalidInput), errors.Is(err, storage.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, exam.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrDuplicateAttempt),
		errors.Is(err, exam.ErrDuplicatePendingRequest),
		errors.Is(err, exam.ErrInvalidState):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(exam.ErrInvalidInput, "bad json: "+err.Error())
	}
	return nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
