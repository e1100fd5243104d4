package schema

import "encoding/json"

// Role is the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Tool is a tool descriptor the model may invoke.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// RequiredParams reads the "required" array out of InputSchema, returning
// nil if absent or malformed. Tool schemas are treated leniently; the
// converter never fails on a missing or odd schema shape.
func (t Tool) RequiredParams() []string {
	raw, ok := t.InputSchema["required"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Request is the inbound Anthropic Messages API request body.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// StopReason enumerates the reasons a response stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Usage reports token accounting for a completed response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the outbound Anthropic Messages API response body.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         Role           `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// MarshalJSON implements json.Marshaler. Content elements are encoded
// through their dynamic types: TextBlock and ToolUseBlock emit their "type"
// tag via their own MarshalJSON, while ImageBlock and ToolResultBlock are
// encoded without one.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return json.Marshal(alias(r))
}

// UnmarshalJSON implements json.Unmarshaler since ContentBlock is an
// interface and encoding/json cannot decode into an interface slice without
// discriminating on each element's "type" field first.
func (r *Response) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID           string            `json:"id"`
		Type         string            `json:"type"`
		Role         Role              `json:"role"`
		Model        string            `json:"model"`
		Content      []json.RawMessage `json:"content"`
		StopReason   StopReason        `json:"stop_reason"`
		StopSequence *string           `json:"stop_sequence"`
		Usage        Usage             `json:"usage"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	blocks, err := UnmarshalContentBlocks(a.Content)
	if err != nil {
		return err
	}
	r.ID = a.ID
	r.Type = a.Type
	r.Role = a.Role
	r.Model = a.Model
	r.Content = blocks
	r.StopReason = a.StopReason
	r.StopSequence = a.StopSequence
	r.Usage = a.Usage
	return nil
}

// ImageAttachment is the sidecar representation of an image pulled out of
// the message content during conversion.
type ImageAttachment struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// TokenUsage is the accounting returned by the external inference SDK after
// a prompt completes.
type TokenUsage struct {
	LLMTokens   int `json:"llmTokens"`
	VLMTokens   int `json:"vlmTokens"`
	TotalTokens int `json:"totalTokens"`
}

// SendPromptResult is what SessionBridge.SendPrompt returns.
type SendPromptResult struct {
	Response   string
	TokenUsage TokenUsage
}
