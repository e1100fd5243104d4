// Package schema defines the Anthropic Messages API request/response wire
// types and the small set of internal value types (image attachments, token
// usage, prompt results) shared across the bridge's components.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ContentBlock is a single tagged element of a message's content. Text,
// image, tool_use, and tool_result blocks all implement this interface,
// discriminated by BlockType.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is a plain-text content block.
type TextBlock struct {
	Text string `json:"text"`
}

// BlockType implements ContentBlock.
func (TextBlock) BlockType() string { return "text" }

// MarshalJSON implements json.Marshaler.
func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: b.Text})
}

// ImageSource holds the base64-encoded payload of an image content block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ImageBlock is an inline base64 image content block.
type ImageBlock struct {
	Source ImageSource `json:"source"`
}

// BlockType implements ContentBlock.
func (ImageBlock) BlockType() string { return "image" }

// ToolUseBlock represents an assistant-authored tool invocation.
type ToolUseBlock struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// BlockType implements ContentBlock.
func (ToolUseBlock) BlockType() string { return "tool_use" }

// MarshalJSON implements json.Marshaler.
func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	input := b.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	return json.Marshal(struct {
		Type  string                 `json:"type"`
		ID    string                 `json:"id"`
		Name  string                 `json:"name"`
		Input map[string]interface{} `json:"input"`
	}{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
}

// ToolResultBlock represents the result of a previously issued tool call,
// supplied back by the user/client.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// BlockType implements ContentBlock.
func (ToolResultBlock) BlockType() string { return "tool_result" }

// rawBlock is used only to sniff the "type" discriminant during decode.
type rawBlock struct {
	Type string `json:"type"`
}

// UnmarshalContentBlocks decodes a JSON array of tagged content blocks.
// Unknown block types are dropped rather than rejected: unrecognized
// content degrades to nothing instead of failing the whole request.
func UnmarshalContentBlocks(raw []json.RawMessage) ([]ContentBlock, error) {
	blocks := make([]ContentBlock, 0, len(raw))
	for _, item := range raw {
		var head rawBlock
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("invalid content block: %w", err)
		}
		switch head.Type {
		case "text":
			var b struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(item, &b); err != nil {
				return nil, fmt.Errorf("invalid text block: %w", err)
			}
			blocks = append(blocks, TextBlock{Text: b.Text})
		case "image":
			var b struct {
				Source ImageSource `json:"source"`
			}
			if err := json.Unmarshal(item, &b); err != nil {
				return nil, fmt.Errorf("invalid image block: %w", err)
			}
			blocks = append(blocks, ImageBlock{Source: b.Source})
		case "tool_use":
			var b struct {
				ID    string                 `json:"id"`
				Name  string                 `json:"name"`
				Input map[string]interface{} `json:"input"`
			}
			if err := json.Unmarshal(item, &b); err != nil {
				return nil, fmt.Errorf("invalid tool_use block: %w", err)
			}
			blocks = append(blocks, ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			var b struct {
				ToolUseID string      `json:"tool_use_id"`
				Content   interface{} `json:"content"`
			}
			if err := json.Unmarshal(item, &b); err != nil {
				return nil, fmt.Errorf("invalid tool_result block: %w", err)
			}
			blocks = append(blocks, ToolResultBlock{ToolUseID: b.ToolUseID, Content: stringifyToolResult(b.Content)})
		default:
			// Unknown block type, dropped.
		}
	}
	return blocks, nil
}

// stringifyToolResult renders a tool_result's content as text whether the
// client sent a plain string or a structured value.
func stringifyToolResult(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(out)
	}
}

// Content is a message's content: either a plain string or an ordered list
// of content blocks. Both forms normalize to the same []ContentBlock shape
// via Blocks(), which is what gives the converter its string/block
// equivalence guarantee.
type Content struct {
	text      string
	blocks    []ContentBlock
	wasString bool
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a JSON string
// or a JSON array of tagged blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		c.text = s
		c.wasString = true
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	blocks, err := UnmarshalContentBlocks(raw)
	if err != nil {
		return err
	}
	c.blocks = blocks
	return nil
}

// Blocks returns the normalized, ordered sequence of content blocks,
// whichever wire form the message used.
func (c Content) Blocks() []ContentBlock {
	if c.wasString {
		return []ContentBlock{TextBlock{Text: c.text}}
	}
	return c.blocks
}

// NewStringContent builds a Content value as if it had been decoded from a
// plain JSON string. Used by tests to construct requests without a JSON
// round trip.
func NewStringContent(text string) Content {
	return Content{text: text, wasString: true}
}

// NewBlockContent builds a Content value from an explicit block sequence.
func NewBlockContent(blocks ...ContentBlock) Content {
	return Content{blocks: blocks}
}
