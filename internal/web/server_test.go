package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomai-core/server/internal/agent"
	"github.com/nomai-core/server/internal/chat"
	"github.com/nomai-core/server/internal/core"
	errx "github.com/nomai-core/server/internal/core/error"
	"github.com/nomai-core/server/internal/nutrition"
)

// fakeRepo is an in-memory HistoryRepository recording writes.
type fakeRepo struct {
	messages map[string][]chat.Message
	getErr   error

	addedUser string
	added     []chat.Message
	addedBase time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: map[string][]chat.Message{}}
}

func (f *fakeRepo) GetMessages(ctx context.Context, userID string) ([]chat.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.messages[userID], nil
}

func (f *fakeRepo) AddMessages(ctx context.Context, userID string, msgs []chat.Message, localTime time.Time) error {
	f.addedUser = userID
	f.added = msgs
	f.addedBase = localTime
	f.messages[userID] = append(f.messages[userID], msgs...)
	return nil
}

func (f *fakeRepo) GetMessageByID(ctx context.Context, userID, messageID string) (*chat.Message, error) {
	for _, m := range f.messages[userID] {
		if m.ID == messageID {
			return &m, nil
		}
	}
	return nil, nil
}

// fakeDriver replays scripted events into the sink and records its input.
type fakeDriver struct {
	events []agent.Event
	result *agent.RunResult
	err    error
	input  agent.RunInput
}

func (f *fakeDriver) Run(ctx context.Context, in agent.RunInput, emit agent.Sink) (*agent.RunResult, error) {
	f.input = in
	for _, ev := range f.events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAnalyzer struct {
	result *nutrition.Result
	err    error
	input  nutrition.InputPayload
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, in nutrition.InputPayload) (*nutrition.Result, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAnalyzer) AnalyzeDescription(ctx context.Context, in nutrition.InputPayload) (*nutrition.Result, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(repo chat.HistoryRepository, driver RunDriver, analyzer NutritionAnalyzer) *Server {
	return NewServer(repo, driver, analyzer, core.Development)
}

func ndjsonLines(t *testing.T, body string) []string {
	t.Helper()
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

func TestChatStreamHappyPath(t *testing.T) {
	repo := newFakeRepo()
	turn := []chat.Message{
		{Role: chat.RoleUser, Parts: []chat.Part{chat.UserPromptPart{Content: "how healthy is rice?"}}},
		{Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart{Content: "Rice is a staple."}}},
	}
	driver := &fakeDriver{
		events: []agent.Event{
			agent.UserPromptEvent{Prompt: "how healthy is rice?"},
			agent.TextDeltaEvent{Delta: "Rice is a staple."},
			agent.FinalResultEvent{Content: "Rice is a staple."},
			agent.EndEvent{Output: "Rice is a staple."},
		},
		result: &agent.RunResult{Output: "Rice is a staple.", NewMessages: turn},
	}
	s := newTestServer(repo, driver, &fakeAnalyzer{})

	body := `{"prompt":"how healthy is rice?","user_id":"u1","local_time":"2026-03-01T16:00:00"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	lines := ndjsonLines(t, rec.Body.String())
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"role":"user"`)
	assert.Contains(t, lines[1], `"is_partial":true`)
	assert.Contains(t, lines[2], `"is_final":true`)

	// The completed turn is persisted with the request's base timestamp.
	assert.Equal(t, "u1", repo.addedUser)
	require.Len(t, repo.added, 2)
	assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), repo.addedBase)
}

func TestChatStreamThreadsProfile(t *testing.T) {
	driver := &fakeDriver{result: &agent.RunResult{}}
	s := newTestServer(newFakeRepo(), driver, &fakeAnalyzer{})

	body := `{"prompt":"hi","user_id":"u1","dietary_preferences":["vegetarian"],"allergies":["peanuts"],"selected_goals":["weight loss"]}`
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"vegetarian"}, driver.input.Profile.DietaryPreferences)
	assert.Equal(t, []string{"peanuts"}, driver.input.Profile.Allergies)
	assert.Equal(t, []string{"weight loss"}, driver.input.Profile.SelectedGoals)
}

func TestChatStreamAppendsImageReference(t *testing.T) {
	driver := &fakeDriver{result: &agent.RunResult{}}
	s := newTestServer(newFakeRepo(), driver, &fakeAnalyzer{})

	body := `{"prompt":"what is this?","user_id":"u1","foodImage":"https://cdn.example/pic.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, driver.input.Prompt, "what is this?")
	assert.Contains(t, driver.input.Prompt, "https://cdn.example/pic.jpg")
}

func TestChatStreamReconcilesHistoryBeforeRun(t *testing.T) {
	repo := newFakeRepo()
	repo.messages["u1"] = []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Parts: []chat.Part{chat.UserPromptPart{Content: "hi"}}},
		// Unanswered tool call must not reach the driver.
		{ID: "m2", Role: chat.RoleModel, Parts: []chat.Part{chat.ToolCallPart{ToolName: "t", ToolCallID: "tc1"}}},
	}
	driver := &fakeDriver{result: &agent.RunResult{}}
	s := newTestServer(repo, driver, &fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(`{"prompt":"again","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, driver.input.History, 1)
	assert.Equal(t, "m1", driver.input.History[0].ID)
}

func TestChatStreamValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"user_id":"u1"}`},
		{"missing user id", `{"prompt":"hi"}`},
		{"bad json", `{"prompt":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(newFakeRepo(), &fakeDriver{result: &agent.RunResult{}}, &fakeAnalyzer{})
			req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestChatStreamRunErrorEmitsErrorLine(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{
		events: []agent.Event{agent.UserPromptEvent{Prompt: "hi"}},
		err:    errx.New(nil, errx.CodeRateLimitExceeded, "Gemini AI rate limit exceeded, try again later"),
	}
	s := newTestServer(repo, driver, &fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(`{"prompt":"hi","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	// The stream already carried frames, so the failure is an NDJSON line,
	// not an HTTP error response.
	require.Equal(t, http.StatusOK, rec.Code)
	lines := ndjsonLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"error_code":"API_RATE_LIMIT_EXCEEDED"`)

	// Failed runs are never persisted.
	assert.Empty(t, repo.added)
}

func TestChatStreamCancelledRunNotPersisted(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{err: context.Canceled}
	s := newTestServer(repo, driver, &fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(`{"prompt":"hi","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Empty(t, repo.added)
}

func TestGetMessages(t *testing.T) {
	repo := newFakeRepo()
	repo.messages["u1"] = []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Parts: []chat.Part{chat.UserPromptPart{Content: "hi"}}},
		{ID: "m2", Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart{Content: "hello"}}},
	}
	s := newTestServer(repo, &fakeDriver{}, &fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodGet, "/chat/messages?user_id=u1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	lines := ndjsonLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"role":"user"`)
	assert.Contains(t, lines[0], `"content":"hi"`)
	assert.Contains(t, lines[1], `"role":"model"`)
}

func TestGetMessagesRequiresUserID(t *testing.T) {
	s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
	req := httptest.NewRequest(http.MethodGet, "/chat/messages", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED_FIELD")
}

func TestMessageTools(t *testing.T) {
	repo := newFakeRepo()
	repo.messages["u1"] = []chat.Message{
		{ID: "m1", Role: chat.RoleModel, Parts: []chat.Part{
			chat.ToolCallPart{ToolName: "calculate_nutrition_by_food_description", Args: []byte(`{}`), ToolCallID: "tc1"},
		}},
		{ID: "m2", Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart{Content: "plain answer"}}},
	}
	s := newTestServer(repo, &fakeDriver{}, &fakeAnalyzer{})

	t.Run("message with tool calls", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/chat/messages/m1/tools?user_id=u1", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"tool_call_id":"tc1"`)
	})

	t.Run("message without tool activity returns empty arrays", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/chat/messages/m2/tools?user_id=u1", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"tool_calls":[]`)
		assert.Contains(t, rec.Body.String(), `"tool_returns":[]`)
	})

	t.Run("unknown message is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/chat/messages/nope/tools?user_id=u1", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "NOT_FOUND")
	})
}

func TestNutritionEndpoint(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		analyzer := &fakeAnalyzer{result: &nutrition.Result{
			Response: &nutrition.Analysis{FoodName: "pad thai", ConfidenceScore: 8},
			Status:   http.StatusOK,
			Message:  "SUCCESS",
		}}
		s := newTestServer(newFakeRepo(), &fakeDriver{}, analyzer)

		req := httptest.NewRequest(http.MethodPost, "/nutrition/get", strings.NewReader(`{"imageData":"abc"}`))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "pad thai")
	})

	t.Run("missing image", func(t *testing.T) {
		s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
		req := httptest.NewRequest(http.MethodPost, "/nutrition/get", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"field":"imageData"`)
	})

	t.Run("malformed base64 is a 400 validation error", func(t *testing.T) {
		// Real service: the decode failure happens before any model call.
		svc := nutrition.NewService(nil, nutrition.Config{})
		s := newTestServer(newFakeRepo(), &fakeDriver{}, svc)

		req := httptest.NewRequest(http.MethodPost, "/nutrition/get", strings.NewReader(`{"imageData":"not base64!!!"}`))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_BASE64")
		assert.Contains(t, rec.Body.String(), `"field":"imageData"`)
	})
}

func TestNutritionDescriptionEndpoint(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		analyzer := &fakeAnalyzer{result: &nutrition.Result{
			Response: &nutrition.Analysis{FoodName: "grilled chicken breast with rice", ConfidenceScore: 9},
			Status:   http.StatusOK,
			Message:  "SUCCESS",
		}}
		s := newTestServer(newFakeRepo(), &fakeDriver{}, analyzer)

		body := `{"food_description":"grilled chicken breast with rice","selectedGoals":["muscle gain"]}`
		req := httptest.NewRequest(http.MethodPost, "/nutrition/description", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "grilled chicken breast with rice")
		assert.Equal(t, "grilled chicken breast with rice", analyzer.input.FoodDescription)
		assert.Equal(t, []string{"muscle gain"}, analyzer.input.SelectedGoals)
	})

	t.Run("missing description", func(t *testing.T) {
		s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
		req := httptest.NewRequest(http.MethodPost, "/nutrition/description", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED_FIELD")
		assert.Contains(t, rec.Body.String(), `"field":"food_description"`)
	})

	t.Run("bad json", func(t *testing.T) {
		s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
		req := httptest.NewRequest(http.MethodPost, "/nutrition/description", strings.NewReader(`{"food`))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
	req := httptest.NewRequest(http.MethodOptions, "/chat/messages", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(newFakeRepo(), &fakeDriver{}, &fakeAnalyzer{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
