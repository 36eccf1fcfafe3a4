package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mockboard/internal/evaluator"
	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
	"github.com/pavelanni/mockboard/internal/settings"
	"github.com/pavelanni/mockboard/internal/storage"
	"github.com/pavelanni/mockboard/internal/store"
)

const testPassword = "s3cret"

const testPaper = `{
  "studentName": "Asha",
  "mode": "class12",
  "subject": "Physics",
  "questions": [
    {"questionNumber": 1, "section": "A", "type": "mcq", "questionText": "Unit of charge?",
     "options": ["A) Coulomb", "B) Volt"], "correctAnswer": "A", "marks": 1, "chapterName": "Electrostatics"},
    {"questionNumber": 2, "section": "B", "type": "short_answer", "questionText": "State Ohm's law.",
     "solution": "V = IR", "marks": 3, "chapterName": "Current Electricity"}
  ]
}`

// fakeAI grades every image with a fixed reply and fails every report.
type fakeAI struct{}

func (fakeAI) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("provider down")
}

func (fakeAI) EvaluateImage(context.Context, string, string, string, string) (string, error) {
	return `{"marksAwarded": 2, "isCorrect": false, "feedback": "Missing units", "modelAnswer": "V = IR"}`, nil
}

type testServer struct {
	router http.Handler
	store  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hash, err := settings.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	sp := settings.New(st, map[string]string{
		settings.KeyAdminPassword: hash,
		settings.KeyPromptVariant: "standard",
	}, settings.DefaultTTL)

	images, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts.Default: %v", err)
	}
	ev := evaluator.New(st, images,
		evaluator.NewWrittenScorer(fakeAI{}, set, sp),
		evaluator.NewReportGenerator(fakeAI{}, set),
	)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(st, ev, sp, images).Routes(r)
	return &testServer{router: r, store: st}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createSession(t *testing.T) model.SessionView {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(testPaper)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body)
	}
	var view model.SessionView
	decode(t, rec, &view)
	return view
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

// answerRequest builds a multipart answer submission. An empty image skips the file part.
func answerRequest(t *testing.T, sessionID, questionID, text string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("questionId", questionID)
	_ = mw.WriteField("answerText", text)
	if image != nil {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="answerImage"; filename="page1.png"`)
		hdr.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		_, _ = part.Write(image)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/answers", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestServer(t)
	view := s.createSession(t)

	if view.Session.Status != model.StatusActive || view.Session.TotalMarks != 4 {
		t.Errorf("unexpected session: %+v", view.Session)
	}
	if len(view.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(view.Questions))
	}

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.Session.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d", rec.Code)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var list []model.Session
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != view.Session.ID {
		t.Errorf("unexpected session list: %+v", list)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCreateSessionRejectsBadPapers(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"not json", "{", "Invalid request body"},
		{"no questions", `{"mode":"class11","subject":"Maths","questions":[]}`, "Invalid paper: paper has no questions"},
		{"unknown type", `{"questions":[{"type":"essay","marks":1}]}`, "Invalid paper: question 1: unknown question type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, jsonRequest(http.MethodPost, "/api/sessions", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if msg := errorMessage(t, rec); !strings.HasPrefix(msg, tt.wantMsg) {
				t.Errorf("error = %q, want prefix %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestSubmitAnswer(t *testing.T) {
	s := newTestServer(t)
	view := s.createSession(t)
	sid := view.Session.ID
	mcq, written := view.Questions[0].ID, view.Questions[1].ID

	rec := s.do(t, answerRequest(t, sid, mcq, "A", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit text: status %d: %s", rec.Code, rec.Body)
	}
	var a model.Answer
	decode(t, rec, &a)
	if a.Text() != "A" {
		t.Errorf("expected answer A, got %q", a.Text())
	}

	rec = s.do(t, answerRequest(t, sid, written, "", []byte("\x89PNG fake")))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit image: status %d: %s", rec.Code, rec.Body)
	}
	decode(t, rec, &a)
	if !strings.HasPrefix(a.ImageRef(), "answers/"+sid+"/") || !strings.HasSuffix(a.ImageRef(), ".png") {
		t.Errorf("unexpected image ref %q", a.ImageRef())
	}

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{"unknown session", answerRequest(t, "missing", mcq, "A", nil), http.StatusNotFound},
		{"unknown question", answerRequest(t, sid, "missing", "A", nil), http.StatusNotFound},
		{"empty answer", answerRequest(t, sid, mcq, "", nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, tt.req); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestProctoring(t *testing.T) {
	s := newTestServer(t)
	sid := s.createSession(t).Session.ID

	rec := s.do(t, jsonRequest(http.MethodPost, "/api/sessions/"+sid+"/proctoring", `{"violationCount": 3}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var sess model.Session
	decode(t, rec, &sess)
	if sess.ViolationCount != 3 || sess.Status != model.StatusActive {
		t.Errorf("unexpected session: %+v", sess)
	}

	rec = s.do(t, jsonRequest(http.MethodPost, "/api/sessions/"+sid+"/proctoring", `{"autoSubmitted": true}`))
	decode(t, rec, &sess)
	if !sess.AutoSubmitted || sess.Status != model.StatusAutoSubmitted || sess.ViolationCount != 3 {
		t.Errorf("unexpected session: %+v", sess)
	}

	rec = s.do(t, jsonRequest(http.MethodPost, "/api/sessions/missing/proctoring", `{"violationCount": 1}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEvaluateAndResult(t *testing.T) {
	s := newTestServer(t)
	view := s.createSession(t)
	sid := view.Session.ID

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/results/"+sid, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before evaluation, got %d", rec.Code)
	}

	s.do(t, answerRequest(t, sid, view.Questions[0].ID, "A", nil))
	s.do(t, answerRequest(t, sid, view.Questions[1].ID, "", []byte("\x89PNG fake")))

	rec = s.do(t, jsonRequest(http.MethodPost, "/api/evaluate", `{"sessionId": "`+sid+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate: status %d: %s", rec.Code, rec.Body)
	}
	var result model.ExamResult
	decode(t, rec, &result)
	if result.MarksObtained != 3 || result.TotalMarks != 4 || result.Percentage != 75 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.EstimatedGrade != "A2" {
		t.Errorf("expected fallback grade A2, got %q", result.EstimatedGrade)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/results/"+sid, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get result: status %d", rec.Code)
	}
	var stored model.ExamResult
	decode(t, rec, &stored)
	if stored.MarksObtained != result.MarksObtained {
		t.Errorf("stored result differs: %+v", stored)
	}

	rec = s.do(t, answerRequest(t, sid, view.Questions[0].ID, "B", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for answer after evaluation, got %d", rec.Code)
	}
}

func TestEvaluateErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"bad body", "nope", http.StatusBadRequest, "Invalid request body"},
		{"missing id", `{}`, http.StatusBadRequest, "Session ID required"},
		{"unknown session", `{"sessionId": "missing"}`, http.StatusNotFound, "Session not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, jsonRequest(http.MethodPost, "/api/evaluate", tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if msg := errorMessage(t, rec); msg != tt.wantMsg {
				t.Errorf("error = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestErrorsAreLocalized(t *testing.T) {
	s := newTestServer(t)
	req := jsonRequest(http.MethodPost, "/api/evaluate", `{}`)
	req.Header.Set("Accept-Language", "hi")
	rec := s.do(t, req)
	if msg := errorMessage(t, rec); msg != "सत्र ID आवश्यक है" {
		t.Errorf("expected Hindi message, got %q", msg)
	}
}

func TestSettingsRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		setup      func(*http.Request)
		wantStatus int
	}{
		{"no password", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong password", func(r *http.Request) { r.Header.Set(adminPasswordHeader, "nope") }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set(adminPasswordHeader, testPassword) }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
			tt.setup(req)
			if rec := s.do(t, req); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/settings?password="+testPassword, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("query password: status %d", rec.Code)
	}
}

func TestUpdateSettings(t *testing.T) {
	s := newTestServer(t)

	req := jsonRequest(http.MethodPost, "/api/settings", `{"GEMINI_API_KEY": "gm-abcd1234", "AI_PROVIDER": "gemini", "BOGUS": "x"}`)
	req.Header.Set(adminPasswordHeader, testPassword)
	rec := s.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp settingsResponse
	decode(t, rec, &resp)
	if resp.Message != "Settings updated" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if strings.Join(resp.Updated, ",") != "GEMINI_API_KEY,AI_PROVIDER" {
		t.Errorf("unexpected updated keys %v", resp.Updated)
	}
	if got := resp.Settings[settings.KeyGeminiAPIKey]; got != "••••••1234" {
		t.Errorf("expected masked key, got %q", got)
	}
	if got := resp.Settings[settings.KeyAIProvider]; got != "gemini" {
		t.Errorf("expected provider gemini, got %q", got)
	}

	stored, err := s.store.GetSetting(context.Background(), settings.KeyGeminiAPIKey)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if stored != "gm-abcd1234" {
		t.Errorf("expected stored key, got %q", stored)
	}
}

func TestUploadPaperDeduplicates(t *testing.T) {
	s := newTestServer(t)

	upload := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("paper", "physics.json")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = io.WriteString(part, testPaper)
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/papers", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(adminPasswordHeader, testPassword)
		return s.do(t, req)
	}

	rec := upload()
	if rec.Code != http.StatusCreated {
		t.Fatalf("first upload: status %d: %s", rec.Code, rec.Body)
	}
	var first uploadResponse
	decode(t, rec, &first)
	if first.Duplicate || first.Session == nil {
		t.Fatalf("unexpected first upload: %+v", first)
	}

	rec = upload()
	if rec.Code != http.StatusOK {
		t.Fatalf("second upload: status %d", rec.Code)
	}
	var second uploadResponse
	decode(t, rec, &second)
	if !second.Duplicate || second.Session == nil || second.Session.Session.ID != first.Session.Session.ID {
		t.Errorf("expected duplicate of %s, got %+v", first.Session.Session.ID, second)
	}

	sessions, err := s.store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(sessions))
	}
}
