// Package web provides the http_fetch tool: bounded GET requests with a
// scheme allowlist.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/tools"
)

// Defaults for fetches.
const (
	DefaultMaxBytes = 500_000
	DefaultTimeout  = 20 * time.Second
)

// Config wires the fetch tool.
type Config struct {
	// MaxBytes caps the response body.
	MaxBytes int

	// Timeout bounds one request.
	Timeout time.Duration

	// Client overrides the HTTP client. Used by tests.
	Client *http.Client
}

// HTTPFetch performs a bounded HTTP GET.
type HTTPFetch struct {
	client   *http.Client
	maxBytes int
}

// NewHTTPFetch creates the http_fetch tool.
func NewHTTPFetch(cfg Config) *HTTPFetch {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetch{client: client, maxBytes: maxBytes}
}

func (t *HTTPFetch) Name() string { return "http_fetch" }

func (t *HTTPFetch) Description() string {
	return "Fetch a http(s) URL with GET and return the response body, truncated to a size cap."
}

func (t *HTTPFetch) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch. Only http and https schemes are allowed.",
			},
			"max_bytes": map[string]any{
				"type":        "integer",
				"description": "Maximum body bytes to return.",
				"minimum":     1,
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *HTTPFetch) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	rawURL := tools.StringArg(args, "url", "")
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tools.Fail(agent.CodeInvalidArguments, agent.BlockedByRules,
			fmt.Sprintf("Invalid arguments: %v", err), map[string]any{"url": rawURL}), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return tools.Fail(agent.CodeRuleBlocked, agent.BlockedByRules,
			fmt.Sprintf("scheme %q is not allowed; use http or https", parsed.Scheme),
			map[string]any{"url": rawURL}), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tools.Fail(agent.CodeHandlerError, agent.BlockedByRuntime,
			err.Error(), map[string]any{"url": rawURL}), nil
	}
	req.Header.Set("User-Agent", "anvil/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Fail(agent.CodeHandlerError, agent.BlockedByRuntime,
			err.Error(), map[string]any{"url": rawURL}), nil
	}
	defer resp.Body.Close()

	limit := tools.IntArg(args, "max_bytes", t.maxBytes)
	if limit > t.maxBytes {
		limit = t.maxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return tools.Fail(agent.CodeHandlerError, agent.BlockedByRuntime,
			err.Error(), map[string]any{"url": rawURL}), nil
	}
	truncated := false
	if len(body) > limit {
		body = body[:limit]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "status: %d\ncontent-type: %s\n\n", resp.StatusCode, resp.Header.Get("Content-Type"))
	b.Write(body)
	if truncated {
		fmt.Fprintf(&b, "\n[truncated at %d bytes]", limit)
	}
	if resp.StatusCode >= 400 {
		return &agent.ToolResult{
			Output:  b.String(),
			Error:   fmt.Sprintf("server returned status %d", resp.StatusCode),
			Success: false,
		}, nil
	}
	return tools.Ok(b.String()), nil
}
