package ledger

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// SQLStore relies on the schema in internal/db: UNIQUE(user_id, exam_id) on
// attempts and a partial unique index over pending override requests.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const attemptColumns = `id,user_id,exam_id,correct_count,incorrect_count,total_questions,percentage,elapsed_seconds,details_json,submitted_at`

const overrideColumns = `id,user_id,exam_id,reason,status,response,requested_at,decided_at`

func (s *SQLStore) RecordAttempt(ctx context.Context, userID, examID string, res grading.Result, elapsedSeconds int, now time.Time) (Attempt, error) {
	if userID == "" || examID == "" {
		return Attempt{}, errors.Wrap(exam.ErrInvalidInput, "user and exam are required")
	}
	a := newAttempt(uuid.NewString(), userID, examID, res, elapsedSeconds, now)
	details, err := json.Marshal(a.Details)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "encode answer details")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (`+attemptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.UserID, a.ExamID, a.CorrectCount, a.IncorrectCount, a.TotalQuestions,
		a.Percentage, a.ElapsedSeconds, string(details), a.SubmittedAt.Unix())
	switch {
	case err == nil:
		return a, nil
	case isUniqueViolation(err):
		return Attempt{}, errors.Wrapf(exam.ErrDuplicateAttempt, "user %s exam %s", userID, examID)
	case isForeignKeyViolation(err):
		return Attempt{}, errors.Wrapf(exam.ErrNotFound, "exam %s", examID)
	default:
		return Attempt{}, errors.Wrap(err, "insert attempt")
	}
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, errors.Wrapf(exam.ErrNotFound, "attempt %s", id)
	}
	return a, errors.Wrapf(err, "get attempt %s", id)
}

func (s *SQLStore) FindAttempt(ctx context.Context, userID, examID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND exam_id=$2`, userID, examID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, errors.Wrapf(exam.ErrNotFound, "attempt of user %s exam %s", userID, examID)
	}
	return a, errors.Wrap(err, "find attempt")
}

func (s *SQLStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	if f.ExamID != "" {
		args = append(args, f.ExamID)
		where = append(where, "exam_id=$"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, "user_id=$"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + attemptColumns + ` FROM attempts` + whereClause(where) + ` ORDER BY submitted_at DESC, id`
	q, args = withPage(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list attempts")
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attempt")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate attempts")
}

func (s *SQLStore) RequestOverride(ctx context.Context, userID, examID, reason string, now time.Time) (OverrideRequest, error) {
	if err := validateRequest(userID, examID, reason); err != nil {
		return OverrideRequest{}, err
	}
	o := OverrideRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		ExamID:      examID,
		Reason:      strings.TrimSpace(reason),
		Status:      OverridePending,
		RequestedAt: now.UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO override_requests (id,user_id,exam_id,reason,status,requested_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.UserID, o.ExamID, o.Reason, string(o.Status), o.RequestedAt.Unix())
	switch {
	case err == nil:
		return o, nil
	case isUniqueViolation(err):
		return OverrideRequest{}, errors.Wrapf(exam.ErrDuplicatePendingRequest, "user %s exam %s", userID, examID)
	case isForeignKeyViolation(err):
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "exam %s", examID)
	default:
		return OverrideRequest{}, errors.Wrap(err, "insert retake request")
	}
}

func (s *SQLStore) DecideOverride(ctx context.Context, requestID string, approve bool, staffResponse string, now time.Time) (OverrideRequest, error) {
	status := OverrideRejected
	if approve {
		status = OverrideApproved
	}
	res, err := s.db.ExecContext(ctx, `UPDATE override_requests SET status=$1, response=$2, decided_at=$3
		WHERE id=$4 AND status='pending'`,
		string(status), strings.TrimSpace(staffResponse), now.UTC().Unix(), requestID)
	if err != nil {
		return OverrideRequest{}, errors.Wrapf(err, "decide retake request %s", requestID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return OverrideRequest{}, errors.Wrap(err, "rows affected")
	}
	o, err := s.GetOverride(ctx, requestID)
	if err != nil {
		return OverrideRequest{}, err
	}
	if n == 0 {
		return OverrideRequest{}, errors.Wrapf(exam.ErrInvalidState, "retake request %s is %s", requestID, o.Status)
	}
	return o, nil
}

func (s *SQLStore) ConsumeOverride(ctx context.Context, requestID, priorAttemptID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOverride(tx.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM override_requests WHERE id=$1`, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(exam.ErrNotFound, "retake request %s", requestID)
		}
		return errors.Wrapf(err, "get retake request %s", requestID)
	}
	if o.Status != OverrideApproved {
		return errors.Wrapf(exam.ErrInvalidState, "retake request %s is %s", requestID, o.Status)
	}
	var userID, examID string
	err = tx.QueryRowContext(ctx, `SELECT user_id, exam_id FROM attempts WHERE id=$1`, priorAttemptID).Scan(&userID, &examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(exam.ErrNotFound, "attempt %s", priorAttemptID)
		}
		return errors.Wrapf(err, "get attempt %s", priorAttemptID)
	}
	if userID != o.UserID || examID != o.ExamID {
		return errors.Wrapf(exam.ErrInvalidState, "attempt %s does not belong to retake request %s", priorAttemptID, requestID)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM override_requests WHERE id=$1 AND status='approved'`, requestID)
	if err != nil {
		return errors.Wrapf(err, "delete retake request %s", requestID)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return errors.Wrapf(exam.ErrInvalidState, "retake request %s already consumed", requestID)
	}
	res, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE id=$1`, priorAttemptID)
	if err != nil {
		return errors.Wrapf(err, "delete attempt %s", priorAttemptID)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return errors.Wrapf(exam.ErrNotFound, "attempt %s", priorAttemptID)
	}
	return errors.Wrap(tx.Commit(), "commit consume")
}

func (s *SQLStore) GetOverride(ctx context.Context, id string) (OverrideRequest, error) {
	o, err := scanOverride(s.db.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM override_requests WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "retake request %s", id)
	}
	return o, errors.Wrapf(err, "get retake request %s", id)
}

func (s *SQLStore) FindOverride(ctx context.Context, userID, examID string, status OverrideStatus) (OverrideRequest, error) {
	o, err := scanOverride(s.db.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM override_requests
		WHERE user_id=$1 AND exam_id=$2 AND status=$3 ORDER BY requested_at DESC, id LIMIT 1`,
		userID, examID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return OverrideRequest{}, errors.Wrapf(exam.ErrNotFound, "%s retake request of user %s exam %s", status, userID, examID)
	}
	return o, errors.Wrap(err, "find retake request")
}

func (s *SQLStore) ListOverrides(ctx context.Context, f OverrideFilter) ([]OverrideRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.ExamID != "" {
		args = append(args, f.ExamID)
		where = append(where, "exam_id=$"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, "user_id=$"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + overrideColumns + ` FROM override_requests` + whereClause(where) + ` ORDER BY requested_at DESC, id`
	q, args = withPage(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list retake requests")
	}
	defer rows.Close()
	out := []OverrideRequest{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan retake request")
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate retake requests")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (Attempt, error) {
	var (
		a           Attempt
		details     string
		submittedAt int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.ExamID, &a.CorrectCount, &a.IncorrectCount, &a.TotalQuestions,
		&a.Percentage, &a.ElapsedSeconds, &details, &submittedAt); err != nil {
		return Attempt{}, err
	}
	a.SubmittedAt = time.Unix(submittedAt, 0).UTC()
	if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
		return Attempt{}, errors.Wrapf(err, "decode answer details of %s", a.ID)
	}
	if a.Details == nil {
		a.Details = map[exam.QuestionID]grading.AnswerDetail{}
	}
	return a, nil
}

func scanOverride(row scanner) (OverrideRequest, error) {
	var (
		o           OverrideRequest
		status      string
		response    sql.NullString
		requestedAt int64
		decidedAt   sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.ExamID, &o.Reason, &status, &response, &requestedAt, &decidedAt); err != nil {
		return OverrideRequest{}, err
	}
	o.Status = OverrideStatus(status)
	o.Response = response.String
	o.RequestedAt = time.Unix(requestedAt, 0).UTC()
	if decidedAt.Valid {
		t := time.Unix(decidedAt.Int64, 0).UTC()
		o.DecidedAt = &t
	}
	return o, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func withPage(q string, args []any, limit, offset int) (string, []any) {
	page, args := exam.PageClause(args, limit, offset)
	return q + page, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "FOREIGN KEY")
		}
	}
	return false
}
