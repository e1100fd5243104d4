// Package converter implements the pure, deterministic transcoding from the
// Anthropic message schema into the ChatML-shaped prompt string and image
// sidecar the external inference SDK consumes. It has no network or session
// dependency: every function here is a pure transformation of its
// arguments.
package converter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabstir/chainbridge/pkg/apierror"
	"github.com/fabstir/chainbridge/pkg/converter/imageutil"
	"github.com/fabstir/chainbridge/pkg/schema"
)

const systemTextCap = 1000

const toolFormatExample = `When you need to call a tool, respond using exactly this format:
<tool_call>TOOL_NAME<arg_key>PARAM</arg_key><arg_value>VALUE</arg_value></tool_call>
IMPORTANT: only use this format when invoking a tool; otherwise respond in plain text.`

// Result is what ConvertMessages returns: the composed prompt string plus
// the ordered image sidecar.
type Result struct {
	Prompt string
	Images []schema.ImageAttachment
}

// ConvertMessages renders messages (plus an optional system prompt and tool
// catalog) into a single ChatML-ish prompt string and an ordered image
// sidecar. It fails only when messages is empty.
func ConvertMessages(messages []schema.Message, system string, tools []schema.Tool) (Result, error) {
	if len(messages) == 0 {
		return Result{}, apierror.New(apierror.KindInvalidRequest, "messages must not be empty")
	}

	var b strings.Builder
	if block := systemBlock(system, tools); block != "" {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(block)
		b.WriteString("\n<|im_end|>\n")
	}

	var images []schema.ImageAttachment
	for _, msg := range messages {
		blocks := msg.Content.Blocks()
		body, msgImages := renderBlocks(blocks)
		role := renderedRole(msg.Role, blocks)

		b.WriteString("<|im_start|>")
		b.WriteString(role)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n<|im_end|>\n")

		images = append(images, msgImages...)
	}
	b.WriteString("<|im_start|>assistant\n")

	return Result{Prompt: b.String(), Images: images}, nil
}

// EstimateInputTokens is a whitespace-word-count proxy used only to
// populate usage.input_tokens.
func EstimateInputTokens(text string) int {
	return len(strings.Fields(text))
}

// renderedRole is "observation" for a user message carrying a tool_result
// block, and the message's own role string otherwise.
func renderedRole(role schema.Role, blocks []schema.ContentBlock) string {
	if role == schema.RoleUser {
		for _, blk := range blocks {
			if blk.BlockType() == "tool_result" {
				return "observation"
			}
		}
	}
	return string(role)
}

// renderBlocks renders one message's content blocks in order, returning the
// textual body (images omitted) and the images pulled out as a sidecar, in
// left-to-right order.
func renderBlocks(blocks []schema.ContentBlock) (string, []schema.ImageAttachment) {
	var parts []string
	var images []schema.ImageAttachment

	for _, blk := range blocks {
		switch b := blk.(type) {
		case schema.TextBlock:
			parts = append(parts, b.Text)
		case schema.ImageBlock:
			att, err := imageutil.FromSource(b.Source.MediaType, b.Source.Data)
			if err != nil {
				// Malformed image data never fails the conversion; it simply
				// contributes no sidecar attachment.
				continue
			}
			images = append(images, schema.ImageAttachment{Data: att.Data, Format: att.Format})
		case schema.ToolUseBlock:
			parts = append(parts, renderToolUse(b))
		case schema.ToolResultBlock:
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n"), images
}

// renderToolUse serializes an assistant tool_use block as a minimal
// {name, arguments} JSON object.
func renderToolUse(b schema.ToolUseBlock) string {
	input := b.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	out, err := json.Marshal(struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}{Name: b.Name, Arguments: input})
	if err != nil {
		return fmt.Sprintf(`{"name":%q,"arguments":{}}`, b.Name)
	}
	return string(out)
}

// systemBlock composes the system text (truncated to systemTextCap runes)
// and, when tools is non-empty, the trailing tool catalog. Returns "" when
// both are absent, so no system block is emitted at all.
func systemBlock(system string, tools []schema.Tool) string {
	text := truncate(system, systemTextCap)
	catalog := toolCatalog(tools)

	switch {
	case text == "" && catalog == "":
		return ""
	case text == "":
		return catalog
	case catalog == "":
		return text
	default:
		return text + "\n" + catalog
	}
}

// toolCatalog renders the "# Tools" section, or "" when tools is empty.
// An empty tools slice behaves identically to omitting the parameter.
func toolCatalog(tools []schema.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Tools\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		b.WriteString(": ")
		b.WriteString(t.Description)
		b.WriteString(" [")
		b.WriteString(strings.Join(t.RequiredParams(), ", "))
		b.WriteString("]\n")
	}
	b.WriteString(toolFormatExample)
	return b.String()
}

// truncate caps s to at most n runes, leaving shorter strings untouched.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
