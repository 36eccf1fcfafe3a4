package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/llm"
	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
)

// VariantSource picks the written-answer prompt variant for a call.
type VariantSource interface {
	PromptVariant(ctx context.Context) string
}

// WrittenScorer scores photographed answers with a vision model.
type WrittenScorer struct {
	vision   VisionGenerator
	prompts  *prompts.Set
	variants VariantSource
}

// NewWrittenScorer creates a WrittenScorer. A nil variants source, or one
// returning an unknown name, selects the standard variant.
func NewWrittenScorer(vision VisionGenerator, set *prompts.Set, variants VariantSource) *WrittenScorer {
	return &WrittenScorer{vision: vision, prompts: set, variants: variants}
}

// Score evaluates one answer image. It never fails: any error yields a
// zero-credit result explaining that evaluation was unavailable.
func (s *WrittenScorer) Score(ctx context.Context, q model.Question, imageBase64, mimeType string) model.EvaluationResult {
	res, err := s.score(ctx, q, imageBase64, mimeType)
	if err != nil {
		slog.Warn("written answer evaluation failed", "question", q.ID, "error", err)
		return model.EvaluationResult{
			Feedback:    appI18n.T(ctx, "AIUnavailable"),
			ModelAnswer: q.Solution,
		}
	}
	return res
}

func (s *WrittenScorer) score(ctx context.Context, q model.Question, imageBase64, mimeType string) (model.EvaluationResult, error) {
	if s.vision == nil {
		return model.EvaluationResult{}, errors.New("no vision generator configured")
	}
	prompt, err := s.prompts.Written(s.variant(ctx), q)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("build prompt: %w", err)
	}
	raw, err := s.vision.EvaluateImage(ctx, imageBase64, mimeType, prompt, prompts.EvaluatorSystemPrompt)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	return parseEvaluation(raw, q)
}

func (s *WrittenScorer) variant(ctx context.Context) prompts.PromptVariant {
	if s.variants == nil {
		return prompts.PromptStandard
	}
	v := s.variants.PromptVariant(ctx)
	if !prompts.IsValidVariant(v) {
		return prompts.PromptStandard
	}
	return prompts.PromptVariant(v)
}

// parseEvaluation decodes the model's JSON verdict. marksAwarded is clamped
// to [0, marks]; isCorrect holds only for full marks.
func parseEvaluation(raw string, q model.Question) (model.EvaluationResult, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	awarded, ok := toFloat(fields["marksAwarded"])
	if !ok {
		return model.EvaluationResult{}, fmt.Errorf("marksAwarded missing or not a number: %v", fields["marksAwarded"])
	}
	awarded = math.Max(0, math.Min(awarded, q.Marks))

	res := model.EvaluationResult{
		MarksAwarded: awarded,
		IsCorrect:    toBool(fields["isCorrect"]) && awarded == q.Marks,
		Feedback:     toString(fields["feedback"]),
		ModelAnswer:  toString(fields["modelAnswer"]),
	}
	if strings.TrimSpace(res.ModelAnswer) == "" {
		res.ModelAnswer = q.Solution
	}
	return res, nil
}

// decodeObject strips code fences and any prose around the outermost JSON object.
func decodeObject(raw string) (map[string]any, error) {
	s := llm.StripCodeFence(raw)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if fields == nil {
		return nil, errors.New("model reply is not a JSON object")
	}
	return fields, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
