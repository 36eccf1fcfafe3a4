package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	tests := map[string]string{
		"NotAttempted":    "Not attempted",
		"ImageUnreadable": "Could not read the answer image for evaluation.",
		"TextOnlyWritten": "Written answer submitted as text – partial evaluation.",
		"AIUnavailable":   "Unable to evaluate this answer. The image may be unclear or the AI service is unavailable.",
	}
	for id, want := range tests {
		if got := T(ctx, id); got != want {
			t.Errorf("T(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	got := T(ctx, "NotAttempted")
	if got != "प्रयास नहीं किया" {
		t.Errorf("T(NotAttempted) = %q", got)
	}
}

func TestDefaultContextIsEnglish(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	got := T(context.Background(), "ReportFallbackStrength")
	if got != "Completed the exam" {
		t.Errorf("T without localizer = %q, want English", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsEvaluated", 1); got != "Evaluated 1 question" {
		t.Errorf("Tp(QuestionsEvaluated, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsEvaluated", 5); got != "Evaluated 5 questions" {
		t.Errorf("Tp(QuestionsEvaluated, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrInvalidPaper", map[string]any{"Reason": "no questions"})
	if got != "Invalid paper: no questions" {
		t.Errorf("Td(ErrInvalidPaper) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a language!"); err == nil {
		t.Error("expected error for malformed language tag")
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrSessionNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Session not found" {
		t.Errorf("default language: got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "सत्र नहीं मिला" {
		t.Errorf("Accept-Language hi: got %q", got)
	}
}
