package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mockboard/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		subject TEXT NOT NULL,
		total_marks REAL NOT NULL DEFAULT 0,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		violation_count INTEGER NOT NULL DEFAULT 0,
		auto_submitted INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question_number INTEGER NOT NULL,
		section TEXT NOT NULL,
		type TEXT NOT NULL,
		question_text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		solution TEXT NOT NULL DEFAULT '',
		marks REAL NOT NULL,
		negative_marks REAL NOT NULL DEFAULT 0,
		chapter_name TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		has_sub_parts INTEGER NOT NULL DEFAULT 0,
		sub_parts TEXT NOT NULL DEFAULT '[]',
		UNIQUE (session_id, question_number),
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS student_answers (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		answer_text TEXT,
		answer_image_url TEXT,
		submitted_at DATETIME NOT NULL,
		is_correct INTEGER,
		marks_awarded REAL,
		feedback TEXT NOT NULL DEFAULT '',
		model_answer TEXT NOT NULL DEFAULT '',
		UNIQUE (session_id, question_id),
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exam_results (
		session_id TEXT PRIMARY KEY,
		total_marks REAL NOT NULL,
		marks_obtained REAL NOT NULL,
		percentage REAL NOT NULL,
		section_breakdown TEXT NOT NULL,
		chapter_breakdown TEXT NOT NULL,
		strengths TEXT NOT NULL,
		weaknesses TEXT NOT NULL,
		recommendations TEXT NOT NULL,
		estimated_grade TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS paper_imports (
		hash TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession stores a session and its questions in one transaction and
// returns the new session ID. Empty IDs are filled with UUIDs.
func (s *Store) CreateSession(ctx context.Context, sess model.Session, questions []model.Question) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = model.StatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, student_name, mode, subject, total_marks, duration_minutes,
		 status, violation_count, auto_submitted, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.StudentName, sess.Mode, sess.Subject, sess.TotalMarks, sess.DurationMinutes,
		sess.Status, sess.ViolationCount, sess.AutoSubmitted, sess.StartedAt, sess.EndedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	for _, q := range questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		options, err := json.Marshal(nonNil(q.Options))
		if err != nil {
			return "", err
		}
		subParts, err := json.Marshal(nonNil(q.SubParts))
		if err != nil {
			return "", err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id, session_id, question_number, section, type, question_text, options,
			 correct_answer, solution, marks, negative_marks, chapter_name, difficulty, has_sub_parts, sub_parts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, sess.ID, q.QuestionNumber, q.Section, q.Type, q.QuestionText, string(options),
			q.CorrectAnswer, q.Solution, q.Marks, q.NegativeMarks, q.ChapterName, q.Difficulty,
			q.HasSubParts, string(subParts),
		)
		if err != nil {
			return "", fmt.Errorf("insert question %d: %w", q.QuestionNumber, err)
		}
	}

	return sess.ID, tx.Commit()
}

const sessionColumns = `id, student_name, mode, subject, total_marks, duration_minutes,
	status, violation_count, auto_submitted, started_at, ended_at`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.StudentName, &sess.Mode, &sess.Subject, &sess.TotalMarks,
		&sess.DurationMinutes, &sess.Status, &sess.ViolationCount, &sess.AutoSubmitted,
		&sess.StartedAt, &sess.EndedAt)
	return sess, err
}

// GetSession returns a session by ID, or model.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, model.ErrNotFound
	}
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// MarkSessionCompleted sets the session status to completed. The first end
// time recorded is kept on re-evaluation.
func (s *Store) MarkSessionCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_sessions SET status = ?, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		model.StatusCompleted, at, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordProctoring updates the violation count and the auto-submit flag. Nil
// arguments leave the stored value unchanged. Auto-submitting also moves the
// session to auto_submitted.
func (s *Store) RecordProctoring(ctx context.Context, id string, violations *int, autoSubmitted *bool) (model.Session, error) {
	var sets []string
	var args []any
	if violations != nil {
		sets = append(sets, "violation_count = ?")
		args = append(args, *violations)
	}
	if autoSubmitted != nil {
		sets = append(sets, "auto_submitted = ?")
		args = append(args, *autoSubmitted)
		if *autoSubmitted {
			sets = append(sets, "status = ?")
			args = append(args, model.StatusAutoSubmitted)
		}
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx,
			`UPDATE exam_sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return model.Session{}, err
		}
		if err := requireRow(res); err != nil {
			return model.Session{}, err
		}
	}
	return s.GetSession(ctx, id)
}

const questionColumns = `id, session_id, question_number, section, type, question_text, options,
	correct_answer, solution, marks, negative_marks, chapter_name, difficulty, has_sub_parts, sub_parts`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	var options, subParts string
	err := row.Scan(&q.ID, &q.SessionID, &q.QuestionNumber, &q.Section, &q.Type, &q.QuestionText,
		&options, &q.CorrectAnswer, &q.Solution, &q.Marks, &q.NegativeMarks, &q.ChapterName,
		&q.Difficulty, &q.HasSubParts, &subParts)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options of question %s: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(subParts), &q.SubParts); err != nil {
		return q, fmt.Errorf("decode sub-parts of question %s: %w", q.ID, err)
	}
	return q, nil
}

// ListQuestions returns a session's questions ordered by question number.
func (s *Store) ListQuestions(ctx context.Context, sessionID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE session_id = ? ORDER BY question_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns one question of a session, or model.ErrNotFound.
func (s *Store) GetQuestion(ctx context.Context, sessionID, questionID string) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE session_id = ? AND id = ?`, sessionID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Question{}, model.ErrNotFound
	}
	return q, err
}

// SaveAnswer records a student's answer. A later submission for the same
// question replaces the text and image it provides and keeps the rest.
func (s *Store) SaveAnswer(ctx context.Context, a model.Answer) (model.Answer, error) {
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO student_answers (id, session_id, question_id, answer_text, answer_image_url, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, question_id) DO UPDATE SET
			answer_text = COALESCE(excluded.answer_text, answer_text),
			answer_image_url = COALESCE(excluded.answer_image_url, answer_image_url),
			submitted_at = excluded.submitted_at`,
		uuid.NewString(), a.SessionID, a.QuestionID, emptyToNil(a.AnswerText), emptyToNil(a.AnswerImageURL), a.SubmittedAt,
	)
	if err != nil {
		return model.Answer{}, err
	}
	return s.getAnswer(ctx, a.SessionID, a.QuestionID)
}

const answerColumns = `id, session_id, question_id, answer_text, answer_image_url, submitted_at,
	is_correct, marks_awarded, feedback, model_answer`

func scanAnswer(row interface{ Scan(...any) error }) (model.Answer, error) {
	var a model.Answer
	err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.AnswerText, &a.AnswerImageURL,
		&a.SubmittedAt, &a.IsCorrect, &a.MarksAwarded, &a.Feedback, &a.ModelAnswer)
	return a, err
}

func (s *Store) getAnswer(ctx context.Context, sessionID, questionID string) (model.Answer, error) {
	a, err := scanAnswer(s.db.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM student_answers WHERE session_id = ? AND question_id = ?`,
		sessionID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Answer{}, model.ErrNotFound
	}
	return a, err
}

// ListAnswers returns all answers of a session.
func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM student_answers WHERE session_id = ? ORDER BY submitted_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SaveEvaluation stores the evaluation of one question, creating an empty
// answer row when the student never answered it.
func (s *Store) SaveEvaluation(ctx context.Context, sessionID, questionID string, res model.EvaluationResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO student_answers (id, session_id, question_id, submitted_at, is_correct, marks_awarded, feedback, model_answer)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, question_id) DO UPDATE SET
			is_correct = excluded.is_correct,
			marks_awarded = excluded.marks_awarded,
			feedback = excluded.feedback,
			model_answer = excluded.model_answer`,
		uuid.NewString(), sessionID, questionID, time.Now(),
		res.IsCorrect, res.MarksAwarded, res.Feedback, res.ModelAnswer,
	)
	return err
}

// UpsertResult creates or overwrites the result of a session.
func (s *Store) UpsertResult(ctx context.Context, r model.ExamResult) error {
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	var cols [5]string
	var err error
	for i, v := range []any{
		nonNilMap(r.SectionBreakdown), nonNilMap(r.ChapterBreakdown),
		nonNil(r.Strengths), nonNil(r.Weaknesses), nonNil(r.Recommendations),
	} {
		if cols[i], err = enc(v); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exam_results (session_id, total_marks, marks_obtained, percentage, section_breakdown,
		 chapter_breakdown, strengths, weaknesses, recommendations, estimated_grade)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			total_marks = excluded.total_marks,
			marks_obtained = excluded.marks_obtained,
			percentage = excluded.percentage,
			section_breakdown = excluded.section_breakdown,
			chapter_breakdown = excluded.chapter_breakdown,
			strengths = excluded.strengths,
			weaknesses = excluded.weaknesses,
			recommendations = excluded.recommendations,
			estimated_grade = excluded.estimated_grade`,
		r.SessionID, r.TotalMarks, r.MarksObtained, r.Percentage,
		cols[0], cols[1], cols[2], cols[3], cols[4], r.EstimatedGrade,
	)
	return err
}

// GetResult returns the result of a session, or nil if it was never evaluated.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.ExamResult, error) {
	var r model.ExamResult
	var sections, chapters, strengths, weaknesses, recs string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, total_marks, marks_obtained, percentage, section_breakdown, chapter_breakdown,
		 strengths, weaknesses, recommendations, estimated_grade
		 FROM exam_results WHERE session_id = ?`, sessionID,
	).Scan(&r.SessionID, &r.TotalMarks, &r.MarksObtained, &r.Percentage, &sections, &chapters,
		&strengths, &weaknesses, &recs, &r.EstimatedGrade)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{sections, &r.SectionBreakdown},
		{chapters, &r.ChapterBreakdown},
		{strengths, &r.Strengths},
		{weaknesses, &r.Weaknesses},
		{recs, &r.Recommendations},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode result of session %s: %w", sessionID, err)
		}
	}
	return &r, nil
}

// GetSessionView builds a full view of a session with its questions, answers and result.
func (s *Store) GetSessionView(ctx context.Context, sessionID string) (*model.SessionView, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.GetResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &model.SessionView{
		Session:   sess,
		Questions: nonNil(questions),
		Answers:   nonNil(answers),
		Result:    result,
	}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
