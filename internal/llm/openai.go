package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIClient implements the Client interface against any
// OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // defaults to DefaultBaseURL
	Model   string // e.g., "gemini-2.0-flash"

	// Options are appended after the key and base URL (tests inject middleware here).
	Options []option.RequestOption
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
	}
	opts = append(opts, cfg.Options...)
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) complete(ctx context.Context, system string, messages []Message, temperature float64, maxTokens int64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            toParams(system, messages),
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Complete returns a single completion for the conversation.
func (c *OpenAIClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	return c.complete(ctx, system, messages, 0.5, 150)
}

// ExtractCustomerName asks the model for the customer name in an instruction.
func (c *OpenAIClient) ExtractCustomerName(ctx context.Context, instruction string) (string, error) {
	out, err := c.complete(ctx, NameExtractionPrompt, []Message{{Role: "user", Content: instruction}}, 0, 20)
	if err != nil {
		return "", err
	}
	out = strings.Trim(out, " \t\n\"'.`")
	if strings.EqualFold(out, "NONE") {
		return "", nil
	}
	return out, nil
}

// SummarizeCall analyzes the transcript and returns a call summary.
func (c *OpenAIClient) SummarizeCall(ctx context.Context, transcript []Message) (*CallSummary, error) {
	msgs := append(append([]Message(nil), transcript...), Message{Role: "user", Content: CallSummaryPrompt})

	content, err := c.complete(ctx, CoordinatorPrompt, msgs, 0.3, 500)
	if err != nil {
		return nil, err
	}

	// Parse JSON from response (handle potential markdown code blocks)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result CallSummary
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse call summary: %w (content: %s)", err, content)
	}
	return &result, nil
}

func toParams(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
