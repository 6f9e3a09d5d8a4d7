package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIReasoner asks a chat completion model to pick actions through
// native tool calling.
type OpenAIReasoner struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIReasoner(cfg OpenAIConfig, logger *zap.Logger) *OpenAIReasoner {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIReasoner{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (r *OpenAIReasoner) Decide(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, r.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	out := &Response{Content: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		out.Calls = append(out.Calls, Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}

	r.logger.Debug("Reasoning provider responded",
		zap.String("model", r.model),
		zap.Int("tool_calls", len(out.Calls)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return out, nil
}

func (r *OpenAIReasoner) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		cm := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, ToolCallID: m.CallID}
		for _, c := range m.Calls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   c.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      c.Name,
					Arguments: string(c.Arguments),
				},
			})
		}
		messages = append(messages, cm)
	}

	out := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: float32(req.Params.Temperature),
	}
	// Reasoning models reject max_tokens and a custom temperature.
	if req.Params.ReasoningEffort != "" {
		out.ReasoningEffort = req.Params.ReasoningEffort
		out.MaxCompletionTokens = req.Params.MaxTokens
		out.Temperature = 0
	} else {
		out.MaxTokens = req.Params.MaxTokens
	}

	for _, def := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(def.Kind),
				Description: def.Description,
				Parameters:  def.JSONSchema(),
			},
		})
	}
	return out
}
