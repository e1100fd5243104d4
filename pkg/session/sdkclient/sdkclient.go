// Package sdkclient is a thin JSON-over-HTTP implementation of the
// session.SDK and session.SessionManager interfaces. It talks to a
// configurable inference-host base URL and deliberately does not
// reimplement any blockchain/payment logic (session encryption, proof
// generation, on-chain settlement); it only shapes the session lifecycle
// requests and decodes their responses.
package sdkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fabstir/chainbridge/pkg/schema"
	"github.com/fabstir/chainbridge/pkg/session"
)

// Client is a minimal JSON request/response HTTP client scoped to the
// inference host's contract: a base URL plus typed POST helpers.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL, which prefixes every request path
// verbatim. No host discovery is done here: an empty baseURL yields request
// URLs with no scheme or host, and those requests fail.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sdkclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sdkclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &session.SDKError{Code: "NETWORK_ERROR", Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &session.SDKError{Code: "NETWORK_ERROR", Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == "" {
			return &session.SDKError{Code: "HOST_UNAVAILABLE", Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
		}
		return &session.SDKError{Code: apiErr.Code, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("sdkclient: decode response: %w", err)
	}
	return nil
}

// Authenticate implements session.SDK.
func (c *Client) Authenticate(ctx context.Context, method string, params map[string]interface{}) error {
	return c.postJSON(ctx, "/authenticate", map[string]interface{}{
		"method": method,
		"params": params,
	}, nil)
}

// NewFactory builds a session.SDKFactory bound to baseURL, adapting Client
// to the SDKConfig each Bridge.Initialize call passes in.
func NewFactory(baseURL string) session.SDKFactory {
	return func(cfg session.SDKConfig) (session.SDK, error) {
		return New(baseURL), nil
	}
}

// SessionManager is the SendPromptStreaming/StartSession/EndSession
// implementation, talking to the same inference host as Client.
type SessionManager struct {
	client    *Client
	lastUsage schema.TokenUsage
}

// NewSessionManager builds a SessionManager against baseURL.
func NewSessionManager(baseURL string) *SessionManager {
	return &SessionManager{client: New(baseURL)}
}

// StartSession implements session.SessionManager.
func (m *SessionManager) StartSession(ctx context.Context, params session.StartSessionParams) (int, error) {
	body := map[string]interface{}{
		"chainId":       params.ChainId,
		"modelId":       params.ModelId,
		"paymentMethod": params.PaymentMethod,
		"encryption":    params.Encryption,
		"depositAmount": params.DepositAmount,
		"pricePerToken": params.PricePerToken,
		"proofInterval": params.ProofInterval,
		"duration":      params.Duration,
	}
	if params.Host != "" {
		body["host"] = params.Host
	}

	var out struct {
		SessionId int `json:"sessionId"`
	}
	if err := m.client.postJSON(ctx, "/sessions/start", body, &out); err != nil {
		return 0, err
	}
	return out.SessionId, nil
}

// SendPromptStreaming implements session.SessionManager. The host answers
// with the whole response in one JSON body; onToken, when non-nil, is
// invoked once with that full, non-empty response.
func (m *SessionManager) SendPromptStreaming(ctx context.Context, sessionId int, prompt string, onToken func(string), images []schema.ImageAttachment) (string, error) {
	body := map[string]interface{}{
		"sessionId": sessionId,
		"prompt":    prompt,
		"images":    images,
	}

	var out struct {
		Response   string            `json:"response"`
		TokenUsage schema.TokenUsage `json:"tokenUsage"`
	}
	if err := m.client.postJSON(ctx, "/sessions/prompt", body, &out); err != nil {
		return "", err
	}
	m.lastUsage = out.TokenUsage
	if onToken != nil && out.Response != "" {
		onToken(out.Response)
	}
	return out.Response, nil
}

// GetLastTokenUsage implements session.SessionManager.
func (m *SessionManager) GetLastTokenUsage() schema.TokenUsage {
	return m.lastUsage
}

// EndSession implements session.SessionManager.
func (m *SessionManager) EndSession(ctx context.Context, sessionId int) error {
	return m.client.postJSON(ctx, "/sessions/end", map[string]interface{}{"sessionId": sessionId}, nil)
}
