// Package evaluator scores a whole exam session and produces its result.
package evaluator

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
	"github.com/pavelanni/mockboard/internal/scoring"
)

// wrongAnswerQuestionRunes bounds the question text quoted in a wrong-answer sample.
const wrongAnswerQuestionRunes = 100

// imageAnswerPlaceholder stands in for the student's answer when only an image was given.
const imageAnswerPlaceholder = "Image answer"

// ErrInvalidSession is returned when a session's questions and answers do not
// line up. Nothing is evaluated or written in that case.
var ErrInvalidSession = errors.New("invalid session")

// Repository is the persistence the evaluator needs.
type Repository interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	MarkSessionCompleted(ctx context.Context, id string, at time.Time) error
	ListQuestions(ctx context.Context, sessionID string) ([]model.Question, error)
	ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error)
	SaveEvaluation(ctx context.Context, sessionID, questionID string, res model.EvaluationResult) error
	UpsertResult(ctx context.Context, res model.ExamResult) error
}

// ImageLoader reads the bytes behind a stored answer image reference.
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, string, error)
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// VisionGenerator produces text from a prompt about an image.
type VisionGenerator interface {
	EvaluateImage(ctx context.Context, imageBase64, mimeType, prompt, systemPrompt string) (string, error)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source used for the session end time.
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// Evaluator drives scoring for entire sessions.
type Evaluator struct {
	repo    Repository
	images  ImageLoader
	written *WrittenScorer
	reports *ReportGenerator
	now     func() time.Time
}

// New creates an Evaluator.
func New(repo Repository, images ImageLoader, written *WrittenScorer, reports *ReportGenerator, opts ...Option) *Evaluator {
	e := &Evaluator{
		repo:    repo,
		images:  images,
		written: written,
		reports: reports,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// EvaluateSession scores every question of a session, persists each answer's
// evaluation as it goes, and stores and returns the session result. It may be
// called again on a completed session: results are recomputed and overwritten.
//
// A missing session yields an error wrapping model.ErrNotFound. Failures of
// the AI or of reading an image are absorbed per question; persistence
// failures abort the run.
func (e *Evaluator) EvaluateSession(ctx context.Context, sessionID string) (model.ExamResult, error) {
	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return model.ExamResult{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	questions, err := e.repo.ListQuestions(ctx, sessionID)
	if err != nil {
		return model.ExamResult{}, fmt.Errorf("list questions: %w", err)
	}
	answers, err := e.repo.ListAnswers(ctx, sessionID)
	if err != nil {
		return model.ExamResult{}, fmt.Errorf("list answers: %w", err)
	}
	byQuestion, err := indexAnswers(questions, answers)
	if err != nil {
		return model.ExamResult{}, err
	}

	if err := e.repo.MarkSessionCompleted(ctx, sessionID, e.now()); err != nil {
		return model.ExamResult{}, fmt.Errorf("mark session completed: %w", err)
	}

	slices.SortStableFunc(questions, func(a, b model.Question) int {
		return cmp.Compare(a.QuestionNumber, b.QuestionNumber)
	})

	slog.Info("evaluating session", "session", sessionID, "questions", len(questions), "answers", len(answers))

	sections := model.SectionBreakdown{}
	chapters := model.ChapterBreakdown{}
	var wrong []model.WrongAnswer
	var rawTotal, paperMarks float64

	for _, q := range questions {
		ans, ok := byQuestion[q.ID]
		attempted := ok && ans.Submitted()
		res := e.scoreQuestion(ctx, q, ans, attempted)
		res.MarksAwarded = scoring.Clamp(res.MarksAwarded, q.Marks, q.NegativeMarks)

		if err := e.repo.SaveEvaluation(ctx, sessionID, q.ID, res); err != nil {
			return model.ExamResult{}, fmt.Errorf("save evaluation for question %d: %w", q.QuestionNumber, err)
		}

		obtained := math.Max(0, res.MarksAwarded)
		sec := sections[q.Section]
		sec.Total += q.Marks
		sec.Obtained += obtained
		sections[q.Section] = sec

		ch := chapters[q.ChapterName]
		ch.Total += q.Marks
		ch.Obtained += obtained
		ch.Questions++
		chapters[q.ChapterName] = ch

		rawTotal += res.MarksAwarded
		paperMarks += q.Marks

		if w, ok := wrongAnswer(q, ans, attempted, res); ok {
			wrong = append(wrong, w)
		}
	}

	totalMarks := session.TotalMarks
	if totalMarks <= 0 {
		totalMarks = paperMarks
	}
	finalScore := math.Max(0, rawTotal)
	var percentage float64
	if totalMarks > 0 {
		percentage = finalScore / totalMarks * 100
	}

	report := e.reports.Generate(ctx, prompts.ReportInput{
		Mode:          session.Mode,
		Subject:       session.Subject,
		TotalMarks:    totalMarks,
		MarksObtained: finalScore,
		Percentage:    percentage,
		Sections:      sections,
		Chapters:      chapters,
		WrongAnswers:  wrong,
	})

	result := model.ExamResult{
		SessionID:        sessionID,
		TotalMarks:       totalMarks,
		MarksObtained:    finalScore,
		Percentage:       percentage,
		SectionBreakdown: sections,
		ChapterBreakdown: chapters,
		Strengths:        report.Strengths,
		Weaknesses:       report.Weaknesses,
		Recommendations:  report.Recommendations,
		EstimatedGrade:   report.EstimatedGrade,
	}
	if err := e.repo.UpsertResult(ctx, result); err != nil {
		return model.ExamResult{}, fmt.Errorf("save result: %w", err)
	}

	slog.Info("session evaluated",
		"session", sessionID,
		"marks", finalScore,
		"total", totalMarks,
		"percentage", percentage,
		"grade", result.EstimatedGrade,
	)
	return result, nil
}

func indexAnswers(questions []model.Question, answers []model.Answer) (map[string]model.Answer, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: session has no questions", ErrInvalidSession)
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	byQuestion := make(map[string]model.Answer, len(answers))
	for _, a := range answers {
		if !known[a.QuestionID] {
			return nil, fmt.Errorf("%w: answer %s refers to unknown question %s", ErrInvalidSession, a.ID, a.QuestionID)
		}
		byQuestion[a.QuestionID] = a
	}
	return byQuestion, nil
}

func (e *Evaluator) scoreQuestion(ctx context.Context, q model.Question, ans model.Answer, attempted bool) model.EvaluationResult {
	if !attempted {
		return model.EvaluationResult{
			Feedback:    appI18n.T(ctx, "NotAttempted"),
			ModelAnswer: q.CorrectAnswer,
		}
	}

	switch q.Type.Rule() {
	case model.RuleSingleChoice:
		return scoring.MCQ(ans.Text(), q.CorrectAnswer, q.Marks, q.NegativeMarks)
	case model.RuleNumeric:
		return scoring.Integer(ans.Text(), q.CorrectAnswer, q.Marks)
	case model.RuleMultiSelect:
		return scoring.MultipleCorrect(
			scoring.ParseSelection(ans.AnswerText),
			scoring.SplitCorrect(q.CorrectAnswer),
			q.Marks, q.NegativeMarks,
		)
	case model.RuleWritten:
		return e.scoreWritten(ctx, q, ans)
	}

	slog.Warn("question has unknown type", "question", q.ID, "type", q.Type)
	return model.EvaluationResult{
		Feedback:    appI18n.T(ctx, "NotAttempted"),
		ModelAnswer: q.CorrectAnswer,
	}
}

func (e *Evaluator) scoreWritten(ctx context.Context, q model.Question, ans model.Answer) model.EvaluationResult {
	modelAnswer := q.Solution
	if modelAnswer == "" {
		modelAnswer = q.CorrectAnswer
	}

	if ref := ans.ImageRef(); ref != "" {
		data, mime, err := e.loadImage(ctx, ref)
		if err != nil {
			slog.Warn("read answer image", "question", q.ID, "error", err)
			return model.EvaluationResult{
				Feedback:    appI18n.T(ctx, "ImageUnreadable"),
				ModelAnswer: q.Solution,
			}
		}
		return e.written.Score(ctx, q, base64.StdEncoding.EncodeToString(data), mime)
	}

	// Typed text for a written question is never sent to the model.
	return model.EvaluationResult{
		Feedback:    appI18n.T(ctx, "TextOnlyWritten"),
		ModelAnswer: modelAnswer,
	}
}

func (e *Evaluator) loadImage(ctx context.Context, ref string) ([]byte, string, error) {
	if e.images == nil {
		return nil, "", errors.New("no image loader configured")
	}
	return e.images.Load(ctx, ref)
}

// wrongAnswer builds the report sample for an incorrect, attempted question.
func wrongAnswer(q model.Question, ans model.Answer, attempted bool, res model.EvaluationResult) (model.WrongAnswer, bool) {
	if !attempted || res.IsCorrect {
		return model.WrongAnswer{}, false
	}
	student := ans.Text()
	if student == "" {
		if ans.ImageRef() == "" {
			return model.WrongAnswer{}, false
		}
		student = imageAnswerPlaceholder
	}
	question := []rune(q.QuestionText)
	if len(question) > wrongAnswerQuestionRunes {
		question = question[:wrongAnswerQuestionRunes]
	}
	return model.WrongAnswer{
		Question:      string(question),
		StudentAnswer: student,
		CorrectAnswer: q.CorrectAnswer,
		Chapter:       q.ChapterName,
	}, true
}
