package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabstir/chainbridge/pkg/apierror"
	"github.com/fabstir/chainbridge/pkg/schema"
)

// fakeBridge is a hand-rolled Bridge fake: canned result/error plus a
// record of the last prompt and images it was handed.
type fakeBridge struct {
	result schema.SendPromptResult
	err    error

	lastPrompt string
	lastImages []schema.ImageAttachment
}

func (f *fakeBridge) SendPrompt(ctx context.Context, prompt string, onToken func(string), images []schema.ImageAttachment) (schema.SendPromptResult, error) {
	f.lastPrompt = prompt
	f.lastImages = images
	if onToken != nil {
		onToken(f.result.Response)
	}
	return f.result, f.err
}

func newTestServer(bridge Bridge, apiKey string) *Server {
	return New(Config{Port: 0, APIKey: apiKey}, bridge, nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	rec := doRequest(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	rec := doRequest(t, s, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesReturns405(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	rec := doRequest(t, s, http.MethodGet, "/v1/messages", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOptionsPreflightReturnsCORSHeaders(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

// A bare OPTIONS probe without preflight headers still answers 200.
func TestBareOptionsReturns200(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	rec := doRequest(t, s, http.MethodOptions, "/v1/messages", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// No configured key accepts both presence and absence of x-api-key; a
// configured key requires an exact match.
func TestAPIKeyGatingWithNoConfiguredKey(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{Response: "hi", TokenUsage: schema.TokenUsage{TotalTokens: 1}}}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "hi"}},
	}

	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := doRequest(t, s, http.MethodPost, "/v1/messages", body, map[string]string{"x-api-key": "anything"})
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestAPIKeyGatingWithConfiguredKey(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{Response: "hi"}}
	s := newTestServer(bridge, "secret")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "hi"}},
	}

	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec2 := doRequest(t, s, http.MethodPost, "/v1/messages", body, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	rec3 := doRequest(t, s, http.MethodPost, "/v1/messages", body, map[string]string{"x-api-key": "secret"})
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestInvalidJSONBodyReturns400(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env apierror.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_request_error", env.Error.Type)
}

func TestEmptyMessagesReturns400(t *testing.T) {
	s := newTestServer(&fakeBridge{}, "")
	body := map[string]interface{}{"model": "glm-4", "max_tokens": 100, "messages": []map[string]interface{}{}}
	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// A single user message round-trips into a one-text-block response.
func TestSingleUserMessageRoundTrip(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{
		Response:   "Test response",
		TokenUsage: schema.TokenUsage{TotalTokens: 5},
	}}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "Hello"}},
	}

	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp schema.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Content, 1)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, schema.RoleAssistant, resp.Role)
	assert.Equal(t, schema.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.True(t, resp.Usage.InputTokens > 0)
}

// decodeBlock re-decodes response body's content[i] as a generic map so
// tests can assert on the "type"/"text" fields without needing a
// ContentBlock-aware unmarshaler.
func decodeBlock(t *testing.T, raw []byte, i int) map[string]interface{} {
	t.Helper()
	var generic struct {
		Content []map[string]interface{} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Greater(t, len(generic.Content), i)
	return generic.Content[i]
}

func TestSingleUserMessageTextBlockContents(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{Response: "Test response", TokenUsage: schema.TokenUsage{TotalTokens: 5}}}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "Hello"}},
	}
	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	block := decodeBlock(t, rec.Body.Bytes(), 0)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "Test response", block["text"])
}

// A tool_call-only backend response produces a tool_use block and
// stop_reason "tool_use".
func TestToolCallResponseProducesToolUseBlock(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{
		Response:   "<tool_call>get_weather<arg_key>city</arg_key><arg_value>Boston</arg_value></tool_call>",
		TokenUsage: schema.TokenUsage{TotalTokens: 8},
	}}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "weather?"}},
	}
	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp schema.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, schema.StopReasonToolUse, resp.StopReason)

	block := decodeBlock(t, rec.Body.Bytes(), 0)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "get_weather", block["name"])
	input := block["input"].(map[string]interface{})
	assert.Equal(t, "Boston", input["city"])
}

func TestBridgeErrorMapsToErrorEnvelope(t *testing.T) {
	bridge := &fakeBridge{err: apierror.New(apierror.KindUpstreamError, "backend exploded")}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"messages":   []map[string]interface{}{{"role": "user", "content": "hi"}},
	}
	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env apierror.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "api_error", env.Error.Type)
}

// System text and the tool catalog both land in the generated prompt, in
// that order.
func TestSystemAndToolsShapeGeneratedPrompt(t *testing.T) {
	bridge := &fakeBridge{result: schema.SendPromptResult{Response: "ok"}}
	s := newTestServer(bridge, "")
	body := map[string]interface{}{
		"model":      "glm-4",
		"max_tokens": 100,
		"system":     "You are helpful.",
		"messages":   []map[string]interface{}{{"role": "user", "content": "Hi"}},
		"tools": []map[string]interface{}{{
			"name":        "get_weather",
			"description": "Get weather info",
			"input_schema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"city"},
			},
		}},
	}

	rec := doRequest(t, s, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	prompt := bridge.lastPrompt
	assert.Contains(t, prompt, "<|im_start|>system\n")
	assert.Contains(t, prompt, "You are helpful.")
	assert.Contains(t, prompt, "# Tools")
	assert.Contains(t, prompt, "- get_weather: Get weather info [city]")
	assert.Contains(t, prompt, "IMPORTANT")

	iSystem := strings.Index(prompt, "You are helpful.")
	iTool := strings.Index(prompt, "get_weather")
	assert.True(t, iSystem < iTool)
}
