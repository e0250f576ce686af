package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

type fakeUsers map[string][3]string // username -> password, sub, role

func (f fakeUsers) Authenticate(_ context.Context, username, password string) (string, string, error) {
	u, ok := f[username]
	if !ok || u[0] != password {
		return "", "", errors.New("invalid credentials")
	}
	return u[1], u[2], nil
}

func (f fakeUsers) RoleOf(_ context.Context, userID string) (string, error) {
	for _, u := range f {
		if u[1] == userID {
			return u[2], nil
		}
	}
	return "", nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestLoginIssuesUsableToken(t *testing.T) {
	a := NewAuthService("test-secret", time.Hour)
	users := fakeUsers{"alice": {"pw", "u-1", rbac.RoleStudent}}

	rec := httptest.NewRecorder()
	LoginHandler(a, users, quiet).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"pw"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	var seenSub, seenRole string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenSub, seenRole = rbac.SubjectFromContext(r.Context()), rbac.RoleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+out["access_token"])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u-1", seenSub)
	require.Equal(t, rbac.RoleStudent, seenRole)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	a := NewAuthService("test-secret", time.Hour)
	rec := httptest.NewRecorder()
	LoginHandler(a, fakeUsers{"alice": {"pw", "u-1", rbac.RoleStudent}}, quiet).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"x"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseRejects(t *testing.T) {
	a := NewAuthService("test-secret", time.Hour)
	other := NewAuthService("other-secret", time.Hour)
	tok, err := other.IssueJWT("u-1", rbac.RoleAdmin)
	require.NoError(t, err)
	_, err = a.Parse(tok)
	require.Error(t, err)

	expired := NewAuthService("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err = expired.IssueJWT("u-1", rbac.RoleAdmin)
	require.NoError(t, err)
	_, err = a.Parse(tok)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	JWTMiddleware(a)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAttachRoleFromStore(t *testing.T) {
	users := fakeUsers{"alice": {"pw", "u-1", rbac.RoleTeacher}}
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = rbac.RoleFromContext(r.Context()) })

	serve := func(sub, claimRole string, fallback bool) int {
		ctx := rbac.WithRole(rbac.WithSubject(context.Background(), sub), claimRole)
		rec := httptest.NewRecorder()
		AttachRoleFromStore(users, fallback, quiet)(next).ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		return rec.Code
	}

	require.Equal(t, http.StatusOK, serve("u-1", rbac.RoleStudent, false))
	require.Equal(t, rbac.RoleTeacher, seen)
	require.Equal(t, http.StatusForbidden, serve("ghost", rbac.RoleStudent, false))
	require.Equal(t, http.StatusOK, serve("ghost", rbac.RoleStudent, true))
	require.Equal(t, rbac.RoleStudent, seen)
}
