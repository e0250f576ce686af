package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/storage"
)

type Users interface {
	authmw.Authenticator
	authmw.RoleLookup
}

type RouterConfig struct {
	Service *proctor.Service
	Auth    *authmw.AuthService
	Users   Users
	Blobs   storage.BlobStore

	CORSOrigins []string
	// AllowClaimFallback keeps the token role for users missing from the
	// user store (offline mode).
	AllowClaimFallback bool
	RequestTimeout     time.Duration

	Now func() time.Time
	Log *slog.Logger
}

func NewRouter(c RouterConfig) chi.Router {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	svc, log, now := c.Service, c.Log, c.Now

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(c.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", authmw.LoginHandler(c.Auth, c.Users, log))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(c.Auth))
		pr.Use(authmw.AttachRoleFromStore(c.Users, c.AllowClaimFallback, log))

		if c.Blobs != nil {
			pr.Route("/assets", func(ar chi.Router) {
				MountAssets(ar, c.Blobs, log)
			})
			pr.With(rbac.Require(rbac.PermExamCreate)).
				Post("/exams/{examID}/questions/{questionID}/image", UploadQuestionImageHandler(svc, c.Blobs, log))
		}

		// Staff
		pr.With(rbac.Require(rbac.PermExamCreate)).
			Post("/exams", CreateExamHandler(svc, now, log))
		pr.With(rbac.Require(rbac.PermExamDelete)).
			Delete("/exams/{examID}", DeleteExamHandler(svc, log))
		pr.With(rbac.Require(rbac.PermAttemptViewAll)).
			Get("/exams/{examID}/results", ResultsHandler(svc, log))
		pr.With(rbac.Require(rbac.PermRetakeDecide)).
			Get("/retake-requests", ListRetakesHandler(svc, log))
		pr.With(rbac.Require(rbac.PermRetakeDecide)).
			Post("/retake-requests/{requestID}/decision", DecideRetakeHandler(svc, now, log))
		pr.With(rbac.Require(rbac.PermAuditView)).
			Get("/events", EventsHandler(svc, log))

		// Student/Teacher: browse
		pr.With(rbac.Require(rbac.PermExamView)).
			Get("/exams", ListExamsHandler(svc, log))
		pr.With(rbac.Require(rbac.PermExamView)).
			Get("/exams/{examID}", GetExamHandler(svc, log))

		// Student flow
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Get("/exams/{examID}/access", AccessHandler(svc, now, log))
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Post("/exams/{examID}/start", StartHandler(svc, now, log))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).
			Post("/exams/{examID}/submit", SubmitHandler(svc, now, log))
		pr.With(rbac.Require(rbac.PermRetakeRequest)).
			Post("/exams/{examID}/retake-requests", RequestRetakeHandler(svc, now, log))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).
			Get("/attempts", ListAttemptsHandler(svc, log))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).
			Get("/attempts/{attemptID}", GetAttemptHandler(svc, log))
	})
	return r
}
