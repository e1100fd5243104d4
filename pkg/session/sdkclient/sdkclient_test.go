package sdkclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabstir/chainbridge/pkg/session"
)

func TestAuthenticatePostsMethodAndParams(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL)
	err := c.Authenticate(context.Background(), "privatekey", map[string]interface{}{"privateKey": "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, "privatekey", gotBody["method"])
}

// When StartSessionParams.Host is empty, the "host" key must not appear in
// the request body at all.
func TestStartSessionOmitsHostKeyWhenEmpty(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]int{"sessionId": 42})
	}))
	defer ts.Close()

	sm := NewSessionManager(ts.URL)
	id, err := sm.StartSession(context.Background(), session.StartSessionParams{
		ChainId:       84532,
		ModelId:       "glm-4",
		PaymentMethod: "deposit",
		Encryption:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, present := gotBody["host"]
	assert.False(t, present, "host key must be absent when unconfigured")
}

func TestStartSessionIncludesHostWhenSet(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]int{"sessionId": 1})
	}))
	defer ts.Close()

	sm := NewSessionManager(ts.URL)
	_, err := sm.StartSession(context.Background(), session.StartSessionParams{Host: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", gotBody["host"])
}

func TestPostJSONMapsErrorCodeFromBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"code": "SESSION_NOT_FOUND", "message": "no such session"})
	}))
	defer ts.Close()

	sm := NewSessionManager(ts.URL)
	_, err := sm.StartSession(context.Background(), session.StartSessionParams{})
	require.Error(t, err)

	var sdkErr *session.SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, "SESSION_NOT_FOUND", sdkErr.Code)
}

func TestSendPromptStreamingRecordsTokenUsage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response":   "hello",
			"tokenUsage": map[string]int{"llmTokens": 3, "vlmTokens": 0, "totalTokens": 3},
		})
	}))
	defer ts.Close()

	sm := NewSessionManager(ts.URL)
	resp, err := sm.SendPromptStreaming(context.Background(), 1, "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp)
	assert.Equal(t, 3, sm.GetLastTokenUsage().TotalTokens)
}

func TestEndSessionPostsSessionId(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sm := NewSessionManager(ts.URL)
	require.NoError(t, sm.EndSession(context.Background(), 7))
	assert.Equal(t, float64(7), gotBody["sessionId"])
}
