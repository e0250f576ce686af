package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckerDefaultPolicy(t *testing.T) {
	c := NewChecker(nil)

	require.True(t, c.Has(RoleStudent, PermAttemptSubmit))
	require.False(t, c.Has(RoleStudent, PermExamViewAnswers))
	require.False(t, c.Has(RoleStudent, PermRetakeDecide))

	require.True(t, c.Has(RoleTeacher, PermExamDelete))
	require.True(t, c.Has(RoleTeacher, PermExamViewAnswers))
	require.False(t, c.Has(RoleTeacher, PermRetakeRequest))

	require.True(t, c.Has(RoleAdmin, "anything:at-all"))
	require.False(t, c.Has("ghost", PermExamView))

	require.True(t, c.Any(RoleStudent, PermAttemptViewAll, PermAttemptViewOwn))
	require.False(t, c.All(RoleStudent, PermAttemptViewAll, PermAttemptViewOwn))
}

func TestMatchPerm(t *testing.T) {
	require.True(t, matchPerm("exam:*", "exam:create"))
	require.False(t, matchPerm("exam:*", "attempt:create"))
	require.True(t, matchPerm("*", "x"))
	require.False(t, matchPerm("exam:view", "exam:view-answers"))
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require(PermRetakeDecide)(ok)

	cases := map[string]int{"": http.StatusForbidden, RoleStudent: http.StatusForbidden, RoleTeacher: http.StatusNoContent}
	for role, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			req = req.WithContext(WithRole(req.Context(), role))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "role %q", role)
	}
}

func TestContextValues(t *testing.T) {
	ctx := WithSubject(WithRole(context.Background(), RoleStudent), "u1")
	require.Equal(t, "u1", SubjectFromContext(ctx))
	require.Equal(t, RoleStudent, RoleFromContext(ctx))
	require.True(t, Can(ctx, PermExamView))
	require.False(t, Can(context.Background(), PermExamView))
	require.True(t, ValidRole(RoleTeacher))
	require.False(t, ValidRole("root"))
}
