// Package scoring implements the deterministic marking rules for objective
// question types. Every function is pure.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/mockboard/internal/model"
)

// integerTolerance absorbs formatting and rounding differences in numeric answers.
const integerTolerance = 0.01

// NormalizeChoice uppercases s and keeps only the letters A-D and digits,
// so "(b)", " B " and "option B" all reduce to "B".
func NormalizeChoice(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'D') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// MCQ scores a single-choice (or assertion-reason) answer.
func MCQ(student, correct string, marks, negativeMarks float64) model.EvaluationResult {
	attempted := strings.TrimSpace(student) != ""
	isCorrect := attempted && NormalizeChoice(student) == NormalizeChoice(correct)

	res := model.EvaluationResult{IsCorrect: isCorrect, ModelAnswer: correct}
	switch {
	case isCorrect:
		res.MarksAwarded = marks
		res.Feedback = "Correct answer!"
	case attempted:
		res.MarksAwarded = -negativeMarks
		res.Feedback = fmt.Sprintf("Incorrect. You selected %s, the correct answer is %s.", student, correct)
	default:
		res.Feedback = "Not attempted."
	}
	return res
}

// Integer scores a numeric answer. Integer questions are never negatively
// marked, whatever negative marks the section configures.
func Integer(student, correct string, marks float64) model.EvaluationResult {
	sv, sok := parseFloatLoose(student)
	cv, cok := parseFloatLoose(correct)
	isCorrect := sok && cok && math.Abs(sv-cv) < integerTolerance

	res := model.EvaluationResult{IsCorrect: isCorrect, ModelAnswer: correct}
	switch {
	case isCorrect:
		res.MarksAwarded = marks
		res.Feedback = "Correct!"
	case strings.TrimSpace(student) != "":
		res.Feedback = fmt.Sprintf("Incorrect. Your answer: %s, Correct answer: %s.", student, correct)
	default:
		res.Feedback = "Not attempted."
	}
	return res
}

// MultipleCorrect scores a multi-select answer. Rules, in priority order:
// the exact set earns full marks; any wrong pick costs the negative marks;
// a non-empty subset of the correct set earns floor(|selected|/|correct| × marks).
// An empty selection earns 0.
func MultipleCorrect(selected, correct []string, marks, negativeMarks float64) model.EvaluationResult {
	s := normalizeSet(selected)
	c := normalizeSet(correct)

	inCorrect := make(map[string]bool, len(c))
	for _, l := range c {
		inCorrect[l] = true
	}
	hasWrong := false
	for _, l := range s {
		if !inCorrect[l] {
			hasWrong = true
			break
		}
	}
	exact := len(s) > 0 && !hasWrong && len(s) == len(c)

	res := model.EvaluationResult{
		IsCorrect:   exact,
		ModelAnswer: strings.Join(c, ", "),
	}
	switch {
	case len(s) == 0:
		res.MarksAwarded = 0
	case exact:
		res.MarksAwarded = marks
	case hasWrong:
		res.MarksAwarded = -negativeMarks
	default:
		res.MarksAwarded = math.Floor(float64(len(s)) * marks / float64(len(c)))
	}

	if exact {
		res.Feedback = "All correct options selected!"
	} else {
		res.Feedback = fmt.Sprintf("Correct options: %s. You selected: %s.", strings.Join(c, ", "), strings.Join(s, ", "))
	}
	return res
}

// ParseSelection decodes a stored multiple-correct answer. The stored form is a
// JSON list of letters; nil means nothing was selected. Payloads that are not
// a JSON list are split on commas.
func ParseSelection(raw *string) []string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return []string{}
	}
	var items []any
	if err := json.Unmarshal([]byte(*raw), &items); err != nil {
		return SplitCorrect(*raw)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// SplitCorrect splits a comma-joined answer key into trimmed letters.
func SplitCorrect(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Clamp bounds an awarded score to [-negativeMarks, marks].
func Clamp(awarded, marks, negativeMarks float64) float64 {
	if awarded > marks {
		return marks
	}
	if awarded < -negativeMarks {
		return -negativeMarks
	}
	return awarded
}

func normalizeSet(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return 0, false
		}
		if v, err = strconv.ParseFloat(fields[0], 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
