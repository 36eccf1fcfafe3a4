package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
)

func TestParseEvaluation(t *testing.T) {
	q := model.Question{Marks: 5, Solution: "the solution"}
	tests := []struct {
		name        string
		raw         string
		wantMarks   float64
		wantCorrect bool
		wantModel   string
		wantErr     bool
	}{
		{"plain", `{"marksAwarded": 3, "isCorrect": false, "feedback": "ok", "modelAnswer": "m"}`, 3, false, "m", false},
		{"fenced", "```json\n{\"marksAwarded\": 5, \"isCorrect\": true, \"modelAnswer\": \"m\"}\n```", 5, true, "m", false},
		{"prose around json", `Here you go: {"marksAwarded": 2} Hope this helps`, 2, false, "the solution", false},
		{"numeric string", `{"marksAwarded": "4.5"}`, 4.5, false, "the solution", false},
		{"above max clamps", `{"marksAwarded": 8, "isCorrect": true}`, 5, true, "the solution", false},
		{"negative clamps to zero", `{"marksAwarded": -2}`, 0, false, "the solution", false},
		{"correct flag needs full marks", `{"marksAwarded": 4, "isCorrect": true}`, 4, false, "the solution", false},
		{"string bool", `{"marksAwarded": 5, "isCorrect": "true"}`, 5, true, "the solution", false},
		{"missing marks", `{"isCorrect": true}`, 0, false, "", true},
		{"marks not numeric", `{"marksAwarded": "lots"}`, 0, false, "", true},
		{"not json", `I cannot read this image`, 0, false, "", true},
		{"json array", `[1,2]`, 0, false, "", true},
		{"null", `null`, 0, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEvaluation(tt.raw, q)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.MarksAwarded != tt.wantMarks {
				t.Errorf("marks = %v, want %v", got.MarksAwarded, tt.wantMarks)
			}
			if got.IsCorrect != tt.wantCorrect {
				t.Errorf("isCorrect = %v, want %v", got.IsCorrect, tt.wantCorrect)
			}
			if got.ModelAnswer != tt.wantModel {
				t.Errorf("modelAnswer = %q, want %q", got.ModelAnswer, tt.wantModel)
			}
		})
	}
}

func TestWrittenScorerFallback(t *testing.T) {
	set, err := prompts.Default()
	if err != nil {
		t.Fatal(err)
	}
	q := model.Question{Type: model.TypeLongAnswer, Marks: 5, Solution: "sol"}

	tests := []struct {
		name   string
		vision VisionGenerator
	}{
		{"provider error", &fakeVision{err: errors.New("all AI providers failed")}},
		{"malformed reply", &fakeVision{reply: "sorry"}},
		{"no generator", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWrittenScorer(tt.vision, set, nil)
			got := s.Score(context.Background(), q, "QUJD", "image/jpeg")
			want := model.EvaluationResult{
				Feedback:    "Unable to evaluate this answer. The image may be unclear or the AI service is unavailable.",
				ModelAnswer: "sol",
			}
			if got != want {
				t.Errorf("Score = %+v, want %+v", got, want)
			}
		})
	}
}

func TestWrittenScorerUnknownVariantFallsBack(t *testing.T) {
	set, _ := prompts.Default()
	v := &fakeVision{reply: `{"marksAwarded": 1}`}
	s := NewWrittenScorer(v, set, fixedVariant("harsh"))
	got := s.Score(context.Background(), model.Question{Marks: 2}, "QUJD", "image/jpeg")
	if got.MarksAwarded != 1 {
		t.Errorf("marks = %v", got.MarksAwarded)
	}
	standard, _ := set.Written(prompts.PromptStandard, model.Question{Marks: 2})
	if v.prompts[0] != standard {
		t.Error("unknown variant should use the standard prompt")
	}
}
