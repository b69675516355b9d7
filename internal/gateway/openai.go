package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/anvil/internal/observability"
)

const defaultOpenAIChatModel = "gpt-4o"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible
	// servers.
	BaseURL string

	// Model is the default completion model.
	Model string

	// MaxRetries bounds retry attempts on 429/5xx responses. Default: 3.
	MaxRetries int
}

// OpenAI adapts the chat completions API to the Gateway interface,
// non-streaming, with function tools.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig, logger *observability.Logger, metrics *observability.Metrics) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai gateway: API key is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIChatModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Provider implements Gateway.
func (o *OpenAI) Provider() string { return "openai" }

// Model implements Gateway.
func (o *OpenAI) Model() string { return o.model }

// Complete implements Gateway. Retries 429 and 5xx responses with backoff.
func (o *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := o.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		start := time.Now()
		resp, err := o.client.CreateChatCompletion(ctx, chatReq)
		if o.metrics != nil {
			o.metrics.GatewayRequestDuration.WithLabelValues("openai", chatReq.Model).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			out, convErr := o.convertResponse(&resp)
			if convErr != nil {
				o.observe(chatReq.Model, "error", Usage{})
				return nil, convErr
			}
			o.observe(chatReq.Model, "success", out.Usage)
			return out, nil
		}
		lastErr = err
		o.observe(chatReq.Model, "error", Usage{})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !openaiRetryable(err) {
			break
		}
		o.logger.Warn(ctx, "openai request failed, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("openai gateway: %w", lastErr)
}

func (o *OpenAI) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
	}

	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			chatReq.Messages = append(chatReq.Messages, msg)
		case RoleSystem:
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		default:
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		}
	}

	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return chatReq
}

func (o *OpenAI) convertResponse(resp *openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai gateway: response contained no choices")
	}
	choice := resp.Choices[0]
	out := &Response{
		Text:       choice.Message.Content,
		StopReason: strings.ToLower(string(choice.FinishReason)),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments surface as empty args; schema
			// validation downstream reports it to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (o *OpenAI) observe(model, status string, usage Usage) {
	if o.metrics == nil {
		return
	}
	o.metrics.GatewayRequests.WithLabelValues("openai", model, status).Inc()
	if usage.PromptTokens > 0 {
		o.metrics.GatewayTokens.WithLabelValues("openai", model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		o.metrics.GatewayTokens.WithLabelValues("openai", model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// openaiRetryable matches rate limits and server errors. The SDK returns
// *openai.APIError with the HTTP status embedded.
func openaiRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset")
}
