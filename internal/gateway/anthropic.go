package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/anvil/internal/observability"
)

// Default Anthropic parameters.
const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxRetries     = 3
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model is the default completion model.
	Model string

	// MaxRetries bounds retry attempts on 429/5xx responses. Default: 3.
	MaxRetries int
}

// Anthropic adapts the Anthropic Messages API to the Gateway interface,
// non-streaming.
type Anthropic struct {
	client     anthropic.Client
	model      string
	maxRetries int
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewAnthropic creates the adapter.
func NewAnthropic(cfg AnthropicConfig, logger *observability.Logger, metrics *observability.Metrics) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic gateway: api key is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return &Anthropic{
		client:     anthropic.NewClient(opts...),
		model:      model,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Provider returns "anthropic".
func (a *Anthropic) Provider() string { return "anthropic" }

// Model returns the configured default model.
func (a *Anthropic) Model() string { return a.model }

// Complete sends the conversation and returns the model's response,
// retrying rate limits and server errors with capped backoff.
func (a *Anthropic) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		start := time.Now()
		msg, err := a.client.Messages.New(ctx, params)
		if a.metrics != nil {
			a.metrics.GatewayRequestDuration.WithLabelValues("anthropic", model).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			resp := a.convertResponse(msg)
			a.observe(model, "success", resp.Usage)
			return resp, nil
		}
		lastErr = err
		a.observe(model, "error", Usage{})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !anthropicRetryable(err) {
			break
		}
		a.logger.Warn(ctx, "anthropic request failed, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("anthropic gateway: %w", lastErr)
}

func (a *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		switch m.Role {
		case RoleTool:
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		case RoleAssistant:
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		case RoleSystem:
			// System text travels in params.System; fold stray system
			// messages into user turns to keep alternation valid.
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return params, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tp.OfTool != nil {
			tp.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, tp)
	}
	return params, nil
}

func (a *Anthropic) convertResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: strings.ToLower(string(msg.StopReason)),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				// Malformed input surfaces as empty args; the executor's
				// schema validation reports it to the model.
				_ = json.Unmarshal(b.Input, &args)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	resp.Text = text.String()
	return resp
}

func (a *Anthropic) observe(model, status string, usage Usage) {
	if a.metrics == nil {
		return
	}
	a.metrics.GatewayRequests.WithLabelValues("anthropic", model, status).Inc()
	if usage.PromptTokens > 0 {
		a.metrics.GatewayTokens.WithLabelValues("anthropic", model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		a.metrics.GatewayTokens.WithLabelValues("anthropic", model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// anthropicRetryable matches rate limits and server errors by message; the
// SDK returns *anthropic.Error with the status embedded.
func anthropicRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "timeout")
}
