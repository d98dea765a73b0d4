package executors

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/flowrun-go/flow"
)

// OpenAIChat sends a single-turn chat completion to the OpenAI API.
//
// Parameters:
//   - model: model name (default "gpt-4o-mini")
//   - prompt: prompt text (input["prompt"] is used as a fallback)
//   - temperature: optional float
//
// The API key comes from the node's credential reference. The call runs
// under the advisory default timeout.
//
// Output:
//   - text: the completion text
//   - model: the model used
//   - tokensUsed: total tokens billed
type OpenAIChat struct{}

// NewOpenAIChat creates the OpenAI chat executor.
func NewOpenAIChat() *OpenAIChat { return &OpenAIChat{} }

// NodeType implements flow.Executor.
func (*OpenAIChat) NodeType() string { return "openai_chat" }

// Execute implements flow.Executor.
func (*OpenAIChat) Execute(ctx context.Context, node flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
	prompt, err := chatPrompt(node, input)
	if err != nil {
		return nil, err
	}
	apiKey, err := chatAPIKey(node, ec)
	if err != nil {
		return nil, err
	}

	model := "gpt-4o-mini"
	if m, ok := node.Parameters["model"].(string); ok && m != "" {
		model = m
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	}
	if temp, ok := node.Parameters["temperature"].(float64); ok {
		params.Temperature = openai.Float(temp)
	}

	callCtx, cancel := context.WithTimeout(ctx, ec.DefaultTimeout())
	defer cancel()

	client := openai.NewClient(option.WithAPIKey(apiKey))
	completion, err := client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI API")
	}

	return map[string]any{
		"text":       completion.Choices[0].Message.Content,
		"model":      model,
		"tokensUsed": int(completion.Usage.TotalTokens),
	}, nil
}

// Validate implements flow.Validator.
func (*OpenAIChat) Validate(settings map[string]any) flow.ValidationResult {
	return validateChatSettings(settings)
}

// chatPrompt resolves the prompt text from the node parameters or the
// upstream payload.
func chatPrompt(node flow.Node, input map[string]any) (string, error) {
	if p, ok := node.Parameters["prompt"].(string); ok && p != "" {
		return p, nil
	}
	if p, ok := input["prompt"].(string); ok && p != "" {
		return p, nil
	}
	return "", fmt.Errorf("prompt required (parameter or input key)")
}

// chatAPIKey resolves the API key from the node's credential reference.
func chatAPIKey(node flow.Node, ec flow.ExecContext) (string, error) {
	if node.CredentialID == "" {
		return "", fmt.Errorf("node has no credential reference")
	}
	key, err := ec.DecryptedCredential(node.CredentialID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve credential: %w", err)
	}
	return key, nil
}

func validateChatSettings(settings map[string]any) flow.ValidationResult {
	var errs []string
	if m, present := settings["model"]; present {
		if _, ok := m.(string); !ok {
			errs = append(errs, "model must be a string")
		}
	}
	if p, present := settings["prompt"]; present {
		if _, ok := p.(string); !ok {
			errs = append(errs, "prompt must be a string")
		}
	}
	return flow.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
