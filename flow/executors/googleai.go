package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/flowrun-go/flow"
)

// GoogleChat sends a single-turn prompt to the Google Gemini API.
//
// Parameters:
//   - model: model name (default "gemini-1.5-flash")
//   - prompt: prompt text (input["prompt"] is used as a fallback)
//
// The API key comes from the node's credential reference. The call runs
// under the advisory default timeout.
//
// Output:
//   - text: concatenated text parts of the first candidate
//   - model: the model used
//   - tokensUsed: total token count when the API reports usage
type GoogleChat struct{}

// NewGoogleChat creates the Gemini chat executor.
func NewGoogleChat() *GoogleChat { return &GoogleChat{} }

// NodeType implements flow.Executor.
func (*GoogleChat) NodeType() string { return "google_chat" }

// Execute implements flow.Executor.
func (*GoogleChat) Execute(ctx context.Context, node flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
	prompt, err := chatPrompt(node, input)
	if err != nil {
		return nil, err
	}
	apiKey, err := chatAPIKey(node, ec)
	if err != nil {
		return nil, err
	}

	modelName := "gemini-1.5-flash"
	if m, ok := node.Parameters["model"].(string); ok && m != "" {
		modelName = m
	}

	callCtx, cancel := context.WithTimeout(ctx, ec.DefaultTimeout())
	defer cancel()

	client, err := genai.NewClient(callCtx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(modelName)
	resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from Gemini API")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return map[string]any{
		"text":       sb.String(),
		"model":      modelName,
		"tokensUsed": tokensUsed,
	}, nil
}

// Validate implements flow.Validator.
func (*GoogleChat) Validate(settings map[string]any) flow.ValidationResult {
	return validateChatSettings(settings)
}
