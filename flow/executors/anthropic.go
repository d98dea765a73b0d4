package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/flowrun-go/flow"
)

// AnthropicChat sends a single-turn message to the Anthropic API.
//
// Parameters:
//   - model: model name (default "claude-sonnet-4-5")
//   - prompt: prompt text (input["prompt"] is used as a fallback)
//   - maxTokens: response token cap (default 4096)
//
// The API key comes from the node's credential reference. The call runs
// under the advisory default timeout.
//
// Output:
//   - text: concatenated text blocks of the response
//   - model: the model used
//   - tokensUsed: input plus output tokens
type AnthropicChat struct{}

// NewAnthropicChat creates the Anthropic chat executor.
func NewAnthropicChat() *AnthropicChat { return &AnthropicChat{} }

// NodeType implements flow.Executor.
func (*AnthropicChat) NodeType() string { return "anthropic_chat" }

// Execute implements flow.Executor.
func (*AnthropicChat) Execute(ctx context.Context, node flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
	prompt, err := chatPrompt(node, input)
	if err != nil {
		return nil, err
	}
	apiKey, err := chatAPIKey(node, ec)
	if err != nil {
		return nil, err
	}

	model := "claude-sonnet-4-5"
	if m, ok := node.Parameters["model"].(string); ok && m != "" {
		model = m
	}
	maxTokens := int64(4096)
	if n, ok := numericParam(node.Parameters["maxTokens"]); ok && n > 0 {
		maxTokens = n
	}

	callCtx, cancel := context.WithTimeout(ctx, ec.DefaultTimeout())
	defer cancel()

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	message, err := client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return map[string]any{
		"text":       sb.String(),
		"model":      model,
		"tokensUsed": int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// Validate implements flow.Validator.
func (*AnthropicChat) Validate(settings map[string]any) flow.ValidationResult {
	return validateChatSettings(settings)
}
