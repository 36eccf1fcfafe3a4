package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ExamMode identifies the exam pattern a paper was generated for.
type ExamMode string

const (
	ModeClass11     ExamMode = "class11"
	ModeClass12     ExamMode = "class12"
	ModeJEEMains    ExamMode = "jee_mains"
	ModeJEEAdvanced ExamMode = "jee_advanced"
)

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusAutoSubmitted SessionStatus = "auto_submitted"
	StatusCompleted     SessionStatus = "completed"
)

// QuestionType is the closed set of question types a paper may contain.
type QuestionType string

const (
	TypeMCQ             QuestionType = "mcq"
	TypeAssertionReason QuestionType = "assertion_reason"
	TypeInteger         QuestionType = "integer"
	TypeMultipleCorrect QuestionType = "multiple_correct"
	TypeVeryShortAnswer QuestionType = "very_short_answer"
	TypeShortAnswer     QuestionType = "short_answer"
	TypeLongAnswer      QuestionType = "long_answer"
	TypeCaseBased       QuestionType = "case_based"
)

// ScoringRule is the marking rule a question type is scored with.
type ScoringRule int

const (
	RuleSingleChoice ScoringRule = iota + 1
	RuleNumeric
	RuleMultiSelect
	RuleWritten
)

func (r ScoringRule) String() string {
	switch r {
	case RuleSingleChoice:
		return "single_choice"
	case RuleNumeric:
		return "numeric"
	case RuleMultiSelect:
		return "multi_select"
	case RuleWritten:
		return "written"
	}
	return fmt.Sprintf("ScoringRule(%d)", int(r))
}

// ParseQuestionType validates a raw type string.
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(s)
	if t.Rule() == 0 {
		return "", fmt.Errorf("unknown question type %q", s)
	}
	return t, nil
}

// Rule maps a question type to its scoring rule. It returns 0 for unknown types.
func (t QuestionType) Rule() ScoringRule {
	switch t {
	case TypeMCQ, TypeAssertionReason:
		return RuleSingleChoice
	case TypeInteger:
		return RuleNumeric
	case TypeMultipleCorrect:
		return RuleMultiSelect
	case TypeVeryShortAnswer, TypeShortAnswer, TypeLongAnswer, TypeCaseBased:
		return RuleWritten
	}
	return 0
}

// Difficulty represents question difficulty level. It is informational only.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Session is one student's sitting of a generated paper.
type Session struct {
	ID              string        `json:"id"`
	StudentName     string        `json:"studentName"`
	Mode            ExamMode      `json:"mode"`
	Subject         string        `json:"subject"`
	TotalMarks      float64       `json:"totalMarks"`
	DurationMinutes int           `json:"durationMinutes"`
	Status          SessionStatus `json:"status"`
	ViolationCount  int           `json:"violationCount"`
	AutoSubmitted   bool          `json:"autoSubmitted"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
}

// SubPart is a component of a question. Its marks are already counted in the
// parent question's marks.
type SubPart struct {
	Label string  `json:"label" yaml:"label"`
	Text  string  `json:"text" yaml:"text"`
	Marks float64 `json:"marks" yaml:"marks"`
}

// Question is immutable once created for a session.
type Question struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"sessionId"`
	QuestionNumber int          `json:"questionNumber"`
	Section        string       `json:"section"`
	Type           QuestionType `json:"type"`
	QuestionText   string       `json:"questionText"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswer  string       `json:"correctAnswer"`
	Solution       string       `json:"solution"`
	Marks          float64      `json:"marks"`
	NegativeMarks  float64      `json:"negativeMarks"`
	ChapterName    string       `json:"chapterName"`
	Difficulty     Difficulty   `json:"difficulty"`
	HasSubParts    bool         `json:"hasSubParts"`
	SubParts       []SubPart    `json:"subParts,omitempty"`
}

// Answer is a student's response to one question. At most one exists per
// (session, question) pair.
type Answer struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	QuestionID     string    `json:"questionId"`
	AnswerText     *string   `json:"answerText,omitempty"`
	AnswerImageURL *string   `json:"answerImageUrl,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt"`
	IsCorrect      *bool     `json:"isCorrect,omitempty"`
	MarksAwarded   *float64  `json:"marksAwarded,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
	ModelAnswer    string    `json:"modelAnswer,omitempty"`
}

// Text returns the typed answer, or "" when none was given.
func (a Answer) Text() string {
	if a.AnswerText == nil {
		return ""
	}
	return *a.AnswerText
}

// ImageRef returns the stored image reference, or "" when none was given.
func (a Answer) ImageRef() string {
	if a.AnswerImageURL == nil {
		return ""
	}
	return *a.AnswerImageURL
}

// Submitted reports whether the student gave any text or image. Rows created
// only to hold an evaluation have neither.
func (a Answer) Submitted() bool {
	return a.Text() != "" || a.ImageRef() != ""
}

// EvaluationResult is the outcome of scoring one question.
type EvaluationResult struct {
	MarksAwarded float64 `json:"marksAwarded"`
	IsCorrect    bool    `json:"isCorrect"`
	Feedback     string  `json:"feedback"`
	ModelAnswer  string  `json:"modelAnswer"`
}

// SectionScore is one bucket of a SectionBreakdown.
type SectionScore struct {
	Total    float64 `json:"total"`
	Obtained float64 `json:"obtained"`
}

// ChapterScore is one bucket of a ChapterBreakdown.
type ChapterScore struct {
	Total     float64 `json:"total"`
	Obtained  float64 `json:"obtained"`
	Questions int     `json:"questions"`
}

// SectionBreakdown maps a section code to its summed marks.
type SectionBreakdown map[string]SectionScore

// ChapterBreakdown maps a chapter name to its summed marks.
type ChapterBreakdown map[string]ChapterScore

// WrongAnswer is a sample of an incorrect response fed to the report generator.
type WrongAnswer struct {
	Question      string `json:"question"`
	StudentAnswer string `json:"studentAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Chapter       string `json:"chapter"`
}

// Report is the narrative part of an exam result.
type Report struct {
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	EstimatedGrade  string   `json:"estimatedGrade"`
}

// ExamResult is the final computed result of a session, one per session.
type ExamResult struct {
	SessionID        string           `json:"sessionId"`
	TotalMarks       float64          `json:"totalMarks"`
	MarksObtained    float64          `json:"marksObtained"`
	Percentage       float64          `json:"percentage"`
	SectionBreakdown SectionBreakdown `json:"sectionBreakdown"`
	ChapterBreakdown ChapterBreakdown `json:"chapterBreakdown"`
	Strengths        []string         `json:"strengths"`
	Weaknesses       []string         `json:"weaknesses"`
	Recommendations  []string         `json:"recommendations"`
	EstimatedGrade   string           `json:"estimatedGrade"`
}

// SessionView combines a session with its questions, answers and result for display.
type SessionView struct {
	Session   Session     `json:"session"`
	Questions []Question  `json:"questions"`
	Answers   []Answer    `json:"answers"`
	Result    *ExamResult `json:"result,omitempty"`
}
