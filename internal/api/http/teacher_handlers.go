package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/storage"
)

const maxImageBytes = 5 << 20

// POST /exams  (exam with questions; ids are generated when missing)
func CreateExamHandler(svc *proctor.Service, now func() time.Time, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e exam.Exam
		if err := decodeJSON(r, &e); err != nil {
			writeError(w, r, log, err)
			return
		}
		e.ID, e.CreatedAt = "", time.Time{}
		out, err := svc.CreateExam(r.Context(), e, rbac.SubjectFromContext(r.Context()), now())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func DeleteExamHandler(svc *proctor.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteExam(r.Context(), chi.URLParam(r, "examID")); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /exams/{examID}/questions/{questionID}/image  (multipart file=)
func UploadQuestionImageHandler(svc *proctor.Service, bs storage.BlobStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		questionID := exam.QuestionID(chi.URLParam(r, "questionID"))

		e, err := svc.GetExam(r.Context(), examID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		found := false
		for _, q := range e.Questions {
			found = found || q.ID == questionID
		}
		if !found {
			writeError(w, r, log, errors.Wrapf(exam.ErrNotFound, "question %s", questionID))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, log, errors.Wrap(exam.ErrInvalidInput, "file required"))
			return
		}
		defer f.Close()
		key, ok := storage.QuestionImageKey(examID, string(questionID), hdr.Header.Get("Content-Type"))
		if !ok {
			writeError(w, r, log, errors.Wrapf(exam.ErrInvalidInput, "unsupported image type %q", hdr.Header.Get("Content-Type")))
			return
		}
		if _, err := bs.Put(key, f); err != nil {
			writeError(w, r, log, err)
			return
		}
		if err := svc.SetQuestionImage(r.Context(), examID, questionID, key); err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key})
	}
}
