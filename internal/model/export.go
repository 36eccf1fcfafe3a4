package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperImport is an externally generated paper used to open a session.
type PaperImport struct {
	StudentName     string           `json:"studentName" yaml:"studentName"`
	Mode            ExamMode         `json:"mode" yaml:"mode"`
	Subject         string           `json:"subject" yaml:"subject"`
	TotalMarks      float64          `json:"totalMarks" yaml:"totalMarks"`
	DurationMinutes int              `json:"durationMinutes" yaml:"durationMinutes"`
	Questions       []QuestionImport `json:"questions" yaml:"questions"`
}

// QuestionImport is one question of a PaperImport.
type QuestionImport struct {
	QuestionNumber int        `json:"questionNumber" yaml:"questionNumber"`
	Section        string     `json:"section" yaml:"section"`
	Type           string     `json:"type" yaml:"type"`
	QuestionText   string     `json:"questionText" yaml:"questionText"`
	Options        []string   `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer  string     `json:"correctAnswer" yaml:"correctAnswer"`
	Solution       string     `json:"solution" yaml:"solution"`
	Marks          float64    `json:"marks" yaml:"marks"`
	NegativeMarks  float64    `json:"negativeMarks" yaml:"negativeMarks"`
	ChapterName    string     `json:"chapterName" yaml:"chapterName"`
	Difficulty     Difficulty `json:"difficulty" yaml:"difficulty"`
	HasSubParts    bool       `json:"hasSubParts" yaml:"hasSubParts"`
	SubParts       []SubPart  `json:"subParts,omitempty" yaml:"subParts,omitempty"`
}

// ResultExport is the top-level JSON structure for result export.
type ResultExport struct {
	ExportedAt time.Time       `json:"exportedAt"`
	Results    []SessionResult `json:"results"`
}

// SessionResult holds one session and its computed result for export.
type SessionResult struct {
	SessionID   string        `json:"sessionId"`
	StudentName string        `json:"studentName"`
	Mode        ExamMode      `json:"mode"`
	Subject     string        `json:"subject"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	Result      ExamResult    `json:"result"`
}

// DecodePaper parses a paper file. Files named *.yaml or *.yml are read as
// YAML, anything else as JSON.
func DecodePaper(name string, data []byte) (PaperImport, error) {
	var p PaperImport
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return PaperImport{}, fmt.Errorf("decode YAML paper: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return PaperImport{}, fmt.Errorf("decode JSON paper: %w", err)
		}
	}
	return p, nil
}

// ToPaper validates an import and converts it into a session and its questions.
// Question numbers default to the 1-based position and must be unique.
func (p PaperImport) ToPaper() (Session, []Question, error) {
	if len(p.Questions) == 0 {
		return Session{}, nil, errors.New("paper has no questions")
	}
	seen := make(map[int]bool, len(p.Questions))
	questions := make([]Question, 0, len(p.Questions))
	var sum float64
	for i, qi := range p.Questions {
		t, err := ParseQuestionType(qi.Type)
		if err != nil {
			return Session{}, nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		if qi.Marks <= 0 {
			return Session{}, nil, fmt.Errorf("question %d: marks must be positive", i+1)
		}
		if qi.NegativeMarks < 0 {
			return Session{}, nil, fmt.Errorf("question %d: negative marks must not be negative", i+1)
		}
		num := qi.QuestionNumber
		if num == 0 {
			num = i + 1
		}
		if seen[num] {
			return Session{}, nil, fmt.Errorf("question %d: duplicate question number %d", i+1, num)
		}
		seen[num] = true
		sum += qi.Marks
		questions = append(questions, Question{
			QuestionNumber: num,
			Section:        qi.Section,
			Type:           t,
			QuestionText:   qi.QuestionText,
			Options:        qi.Options,
			CorrectAnswer:  qi.CorrectAnswer,
			Solution:       qi.Solution,
			Marks:          qi.Marks,
			NegativeMarks:  qi.NegativeMarks,
			ChapterName:    qi.ChapterName,
			Difficulty:     qi.Difficulty,
			HasSubParts:    qi.HasSubParts,
			SubParts:       qi.SubParts,
		})
	}
	total := p.TotalMarks
	if total <= 0 {
		total = sum
	}
	sess := Session{
		StudentName:     p.StudentName,
		Mode:            p.Mode,
		Subject:         p.Subject,
		TotalMarks:      total,
		DurationMinutes: p.DurationMinutes,
		Status:          StatusActive,
	}
	return sess, questions, nil
}
