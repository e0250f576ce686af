package rbac

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

const (
	PermExamCreate      = "exam:create"
	PermExamView        = "exam:view"
	PermExamViewAnswers = "exam:view-answers"
	PermExamDelete      = "exam:delete"
	PermAttemptCreate   = "attempt:create"
	PermAttemptSubmit   = "attempt:submit"
	PermAttemptViewOwn  = "attempt:view-own"
	PermAttemptViewAll  = "attempt:view-all"
	PermRetakeRequest   = "retake:request"
	PermRetakeDecide    = "retake:decide"
	PermAuditView       = "audit:view"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		PermExamView,
		PermAttemptCreate,
		PermAttemptSubmit,
		PermAttemptViewOwn,
		PermRetakeRequest,
	},
	RoleTeacher: {
		"exam:*",
		PermAttemptViewAll,
		PermRetakeDecide,
	},
	RoleAdmin: {
		"*", // everything
	},
}

// ValidRole reports whether role has an entry in the default policy.
func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
