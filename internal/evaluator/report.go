package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
)

// ReportGenerator turns aggregated scores into a narrative report.
type ReportGenerator struct {
	text    TextGenerator
	prompts *prompts.Set
}

// NewReportGenerator creates a ReportGenerator.
func NewReportGenerator(text TextGenerator, set *prompts.Set) *ReportGenerator {
	return &ReportGenerator{text: text, prompts: set}
}

// Generate always returns a report. When the model cannot be reached or its
// reply cannot be parsed, a fixed report graded by GradeForPercentage is used.
func (g *ReportGenerator) Generate(ctx context.Context, in prompts.ReportInput) model.Report {
	r, err := g.generate(ctx, in)
	if err != nil {
		slog.Warn("report generation failed, using fallback", "error", err)
		return FallbackReport(ctx, in.Percentage)
	}
	return r
}

func (g *ReportGenerator) generate(ctx context.Context, in prompts.ReportInput) (model.Report, error) {
	if g.text == nil {
		return model.Report{}, errors.New("no text generator configured")
	}
	prompt, err := g.prompts.Report(in)
	if err != nil {
		return model.Report{}, fmt.Errorf("build prompt: %w", err)
	}
	raw, err := g.text.GenerateText(ctx, prompt, prompts.AnalystSystemPrompt)
	if err != nil {
		return model.Report{}, err
	}
	fields, err := decodeObject(raw)
	if err != nil {
		return model.Report{}, err
	}

	r := model.Report{
		Strengths:       toStrings(fields["strengths"]),
		Weaknesses:      toStrings(fields["weaknesses"]),
		Recommendations: toStrings(fields["recommendations"]),
		EstimatedGrade:  strings.TrimSpace(toString(fields["estimatedGrade"])),
	}
	if r.EstimatedGrade == "" {
		r.EstimatedGrade = GradeForPercentage(in.Percentage)
	}
	return r, nil
}

// FallbackReport is the report used when the model is unavailable.
func FallbackReport(ctx context.Context, percentage float64) model.Report {
	return model.Report{
		Strengths:       []string{appI18n.T(ctx, "ReportFallbackStrength")},
		Weaknesses:      []string{appI18n.T(ctx, "ReportFallbackWeakness")},
		Recommendations: []string{appI18n.T(ctx, "ReportFallbackRecommendation")},
		EstimatedGrade:  GradeForPercentage(percentage),
	}
}

// GradeForPercentage maps a percentage to a grade: ≥90 A1, ≥75 A2, ≥60 B1, else B2.
func GradeForPercentage(pct float64) string {
	switch {
	case pct >= 90:
		return "A1"
	case pct >= 75:
		return "A2"
	case pct >= 60:
		return "B1"
	}
	return "B2"
}
