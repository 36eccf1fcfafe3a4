package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/mockboard/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const (
	// EvaluatorSystemPrompt is the persona for scoring written answers.
	EvaluatorSystemPrompt = `You are an expert CBSE/JEE examiner with 20+ years of experience. Evaluate student answers as per the CBSE/NTA marking scheme. Be fair but strict. Award partial marks where applicable.

CRITICAL: Return ONLY valid JSON, no markdown code fences or extra text.`

	// AnalystSystemPrompt is the persona for the performance report.
	AnalystSystemPrompt = "You are an expert educational counselor. Analyze student performance and provide actionable insights. Return ONLY valid JSON."
)

// MaxReportSamples caps the wrong answers quoted in a report prompt.
const MaxReportSamples = 10

const maxAnswerRunes = 2000

// PromptVariant represents a written-answer grading variant.
type PromptVariant string

const (
	// PromptStrict follows the marking scheme to the letter.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives the benefit of the doubt on notation slips.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// WrittenData holds template data for written-answer prompts.
type WrittenData struct {
	QuestionText  string
	Type          string
	Marks         string
	MarkingScheme string
	Solution      string
	SubParts      []string
}

// ReportInput is the aggregated performance a report prompt describes.
type ReportInput struct {
	Mode          model.ExamMode
	Subject       string
	TotalMarks    float64
	MarksObtained float64
	Percentage    float64
	Sections      model.SectionBreakdown
	Chapters      model.ChapterBreakdown
	WrongAnswers  []model.WrongAnswer
}

// ReportData holds template data for the report prompt.
type ReportData struct {
	Mode            string
	Subject         string
	MarksObtained   string
	TotalMarks      string
	Percentage      string
	SectionLines    []string
	ChapterLines    []string
	WrongCount      int
	MistakeChapters string
	Samples         []model.WrongAnswer
}

// Set is a parsed collection of prompt templates.
type Set struct {
	written map[PromptVariant]*template.Template
	report  *template.Template
}

var (
	loadOnce   sync.Once
	loadErr    error
	defaultSet *Set
)

// Default returns the templates embedded in the binary, parsed once.
func Default() (*Set, error) {
	loadOnce.Do(func() {
		defaultSet, loadErr = New(templateFS)
	})
	return defaultSet, loadErr
}

// New parses templates/written_<variant>.txt and templates/report.txt from fsys.
func New(fsys fs.FS) (*Set, error) {
	s := &Set{written: make(map[PromptVariant]*template.Template, len(variants))}
	for _, v := range variants {
		tmpl, err := parse(fsys, "templates/written_"+string(v)+".txt")
		if err != nil {
			return nil, err
		}
		s.written[v] = tmpl
	}
	report, err := parse(fsys, "templates/report.txt")
	if err != nil {
		return nil, err
	}
	s.report = report
	return s, nil
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// Written builds the evaluation prompt for a photographed written answer.
func (s *Set) Written(variant PromptVariant, q model.Question) (string, error) {
	tmpl, ok := s.written[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := WrittenData{
		QuestionText:  q.QuestionText,
		Type:          string(q.Type),
		Marks:         FormatMarks(q.Marks),
		MarkingScheme: q.CorrectAnswer,
		Solution:      q.Solution,
	}
	if q.HasSubParts {
		for _, sp := range q.SubParts {
			data.SubParts = append(data.SubParts, fmt.Sprintf("(%s) %s [%s marks]", sp.Label, sp.Text, FormatMarks(sp.Marks)))
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Report builds the performance-analysis prompt. Breakdown lines are sorted by
// key so identical input yields an identical prompt.
func (s *Set) Report(in ReportInput) (string, error) {
	data := ReportData{
		Mode:            string(in.Mode),
		Subject:         in.Subject,
		MarksObtained:   FormatMarks(in.MarksObtained),
		TotalMarks:      FormatMarks(in.TotalMarks),
		Percentage:      strconv.FormatFloat(in.Percentage, 'f', 1, 64),
		WrongCount:      len(in.WrongAnswers),
		MistakeChapters: strings.Join(mistakeChapters(in.WrongAnswers), ", "),
	}
	for _, k := range sortedKeys(in.Sections) {
		sc := in.Sections[k]
		data.SectionLines = append(data.SectionLines,
			fmt.Sprintf("%s: %s/%s", k, FormatMarks(sc.Obtained), FormatMarks(sc.Total)))
	}
	for _, k := range sortedKeys(in.Chapters) {
		ch := in.Chapters[k]
		data.ChapterLines = append(data.ChapterLines,
			fmt.Sprintf("%s: %s/%s (%d questions)", k, FormatMarks(ch.Obtained), FormatMarks(ch.Total), ch.Questions))
	}
	for i, w := range in.WrongAnswers {
		if i == MaxReportSamples {
			break
		}
		w.StudentAnswer = sanitizeAnswer(w.StudentAnswer)
		data.Samples = append(data.Samples, w)
	}

	var buf bytes.Buffer
	if err := s.report.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatMarks renders marks without trailing zeros: 4, 0.25, 1.5.
func FormatMarks(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mistakeChapters lists chapters in order of their first wrong answer.
func mistakeChapters(wrong []model.WrongAnswer) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wrong {
		if !seen[w.Chapter] {
			seen[w.Chapter] = true
			out = append(out, w.Chapter)
		}
	}
	return out
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
