package exam

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// PutExam creates or replaces an exam; its questions and allow-list are
// rewritten as a whole.
func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	if e.ID == "" {
		return errors.Wrap(ErrInvalidInput, "exam id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO exams
		(id,title,course_id,visibility,timing,starts_at,ends_at,seconds_per_question,active,created_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, course_id=EXCLUDED.course_id,
			visibility=EXCLUDED.visibility, timing=EXCLUDED.timing, starts_at=EXCLUDED.starts_at,
			ends_at=EXCLUDED.ends_at, seconds_per_question=EXCLUDED.seconds_per_question, active=EXCLUDED.active`,
		e.ID, e.Title, e.CourseID, string(e.Visibility), string(e.Timing),
		unixOrNull(e.StartsAt), unixOrNull(e.EndsAt), e.SecondsPerQuestion, e.Active, e.CreatedBy, e.CreatedAt.Unix())
	if err != nil {
		return errors.Wrapf(err, "upsert exam %s", e.ID)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id=$1`, e.ID); err != nil {
		return errors.Wrap(err, "clear questions")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM exam_authorized_users WHERE exam_id=$1`, e.ID); err != nil {
		return errors.Wrap(err, "clear authorized users")
	}
	for _, q := range e.Questions {
		_, err = tx.ExecContext(ctx, `INSERT INTO questions
			(id,exam_id,position,prompt,image_key,option_a,option_b,option_c,option_d,correct)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			string(q.ID), e.ID, q.Position, q.Prompt, q.ImageKey,
			q.Options[0], q.Options[1], q.Options[2], q.Options[3], string(q.Correct))
		if err != nil {
			return errors.Wrapf(err, "insert question %s", q.ID)
		}
	}
	for _, u := range e.AuthorizedUsers {
		if strings.TrimSpace(u) == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO exam_authorized_users (exam_id,user_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, e.ID, u)
		if err != nil {
			return errors.Wrapf(err, "authorize %s", u)
		}
	}
	return errors.Wrap(tx.Commit(), "commit exam")
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,course_id,visibility,timing,starts_at,ends_at,
		seconds_per_question,active,created_by,created_at FROM exams WHERE id=$1`, id)
	var (
		e            Exam
		vis, timing  string
		starts, ends sql.NullInt64
		createdAt    int64
	)
	err := row.Scan(&e.ID, &e.Title, &e.CourseID, &vis, &timing, &starts, &ends,
		&e.SecondsPerQuestion, &e.Active, &e.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, errors.Wrapf(ErrNotFound, "exam %s", id)
		}
		return Exam{}, errors.Wrapf(err, "get exam %s", id)
	}
	e.Visibility, e.Timing = Visibility(vis), TimingMode(timing)
	e.StartsAt, e.EndsAt = timeOrNil(starts), timeOrNil(ends)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()

	if e.Questions, err = s.questions(ctx, id); err != nil {
		return Exam{}, err
	}
	if e.AuthorizedUsers, err = s.authorized(ctx, id); err != nil {
		return Exam{}, err
	}
	return e, nil
}

func (s *SQLStore) questions(ctx context.Context, examID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,position,prompt,image_key,option_a,option_b,option_c,option_d,correct
		FROM questions WHERE exam_id=$1 ORDER BY position, id`, examID)
	if err != nil {
		return nil, errors.Wrapf(err, "list questions of %s", examID)
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var (
			q       Question
			id, key string
		)
		if err := rows.Scan(&id, &q.Position, &q.Prompt, &key,
			&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &q.Correct); err != nil {
			return nil, errors.Wrap(err, "scan question")
		}
		q.ID, q.ExamID, q.ImageKey = QuestionID(id), examID, key
		out = append(out, q)
	}
	return out, errors.Wrap(rows.Err(), "iterate questions")
}

func (s *SQLStore) authorized(ctx context.Context, examID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM exam_authorized_users WHERE exam_id=$1 ORDER BY user_id`, examID)
	if err != nil {
		return nil, errors.Wrapf(err, "list authorized users of %s", examID)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errors.Wrap(err, "scan authorized user")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "iterate authorized users")
}

func (s *SQLStore) ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error) {
	q := `SELECT e.id,e.title,e.course_id,e.visibility,e.timing,e.starts_at,e.ends_at,e.active,
		(SELECT COUNT(*) FROM questions q WHERE q.exam_id=e.id)
		FROM exams e WHERE 1=1`
	var args []any
	if opts.CourseID != "" {
		args = append(args, opts.CourseID)
		q += ` AND e.course_id=` + placeholder(len(args))
	}
	if opts.ActiveOnly {
		args = append(args, true)
		q += ` AND e.active=` + placeholder(len(args))
	}
	if opts.Viewer != "" {
		args = append(args, string(VisibilityRestricted), opts.Viewer)
		q += ` AND (e.visibility<>` + placeholder(len(args)-1) + ` OR EXISTS (SELECT 1 FROM exam_authorized_users a
			WHERE a.exam_id=e.id AND a.user_id=` + placeholder(len(args)) + `))`
	}
	q += ` ORDER BY e.created_at DESC, e.id`
	var page string
	page, args = PageClause(args, opts.Limit, opts.Offset)
	q += page

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list exams")
	}
	defer rows.Close()
	out := []ExamSummary{}
	for rows.Next() {
		var (
			x            ExamSummary
			vis, timing  string
			starts, ends sql.NullInt64
		)
		if err := rows.Scan(&x.ID, &x.Title, &x.CourseID, &vis, &timing, &starts, &ends, &x.Active, &x.QuestionCount); err != nil {
			return nil, errors.Wrap(err, "scan exam")
		}
		x.Visibility, x.Timing = Visibility(vis), TimingMode(timing)
		x.StartsAt, x.EndsAt = timeOrNil(starts), timeOrNil(ends)
		out = append(out, x)
	}
	return out, errors.Wrap(rows.Err(), "iterate exams")
}

func (s *SQLStore) DeleteExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id=$1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete exam %s", id)
	}
	return mustAffect(res, "exam", id)
}

func (s *SQLStore) SetQuestionImage(ctx context.Context, examID string, questionID QuestionID, key string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET image_key=$1 WHERE exam_id=$2 AND id=$3`,
		key, examID, string(questionID))
	if err != nil {
		return errors.Wrapf(err, "set image of question %s", questionID)
	}
	return mustAffect(res, "question", string(questionID))
}

func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %s", what, id)
	}
	return nil
}

func placeholder(n int) string { return "$" + strconv.Itoa(n) }

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
