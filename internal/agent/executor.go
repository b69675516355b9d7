package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/preflight"
)

// DefaultToolTimeout bounds a single handler invocation.
const DefaultToolTimeout = 30 * time.Second

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// Timeout is the per-call wall-clock limit. Default: 30s.
	Timeout time.Duration

	// Rules are evaluated before every call. Defaults to DefaultRules.
	Rules []Rule
}

// Executor invokes handlers with schema validation, safety rules, path
// rewrites, timeouts, and panic recovery. Every failure is converted into
// a ToolResult carrying the error envelope; Execute never returns a Go
// error to the loop.
type Executor struct {
	registry *Registry
	rules    []Rule
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{
		registry: registry,
		rules:    cfg.Rules,
		timeout:  cfg.Timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute runs one proposal to completion. rewrite, when non-nil and SAFE,
// is applied to a copy of the arguments before validation; the proposal
// itself is never mutated.
func (e *Executor) Execute(ctx context.Context, call ToolCall, rewrite *preflight.PathRewrite) *ToolResult {
	start := time.Now()
	result := e.execute(ctx, call, rewrite)
	result.CallID = call.ID

	status := "success"
	if !result.Success {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call ToolCall, rewrite *preflight.PathRewrite) *ToolResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return failure(CodeUnknownTool, BlockedByMissing,
			fmt.Sprintf("no tool named %q is registered", call.Name),
			map[string]any{"tool": call.Name})
	}

	for _, rule := range e.rules {
		if denial := rule.Evaluate(call); denial != nil {
			e.logger.Warn(ctx, "tool call denied by rule",
				"tool", call.Name, "rule", denial.Rule)
			return failure(CodeRuleBlocked, BlockedByRules, denial.Error(),
				map[string]any{"rule": denial.Rule})
		}
	}

	args := call.Arguments
	if rewrite != nil && rewrite.Safety == preflight.RewriteSafe && rewrite.CallID == call.ID {
		args = make(map[string]any, len(call.Arguments))
		for k, v := range call.Arguments {
			args[k] = v
		}
		args[rewrite.ArgKey] = rewrite.Rewritten
	}

	if err := e.registry.Validate(call.Name, args); err != nil {
		return failure(CodeInvalidArguments, BlockedByRules,
			fmt.Sprintf("Invalid arguments: %v", err),
			map[string]any{"tool": call.Name})
	}

	return e.invoke(ctx, tool, call, args)
}

// invoke runs the handler under the per-call timeout, converting panics
// and timeouts into error results.
func (e *Executor) invoke(ctx context.Context, tool Tool, call ToolCall, args map[string]any) *ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := tool.Execute(callCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn(ctx, "tool execution timed out",
				"tool", call.Name, "timeout", e.timeout)
			return failure(CodeTimedOut, BlockedByRuntime,
				fmt.Sprintf("tool execution timed out after %v", e.timeout),
				map[string]any{"tool": call.Name, "timeout_seconds": e.timeout.Seconds()})
		}
		return failure(CodeCancelled, BlockedByRuntime,
			"tool execution cancelled", map[string]any{"tool": call.Name})
	case out := <-done:
		if out.err != nil {
			code := CodeHandlerError
			if len(out.err.Error()) >= 6 && out.err.Error()[:6] == "panic:" {
				code = CodeHandlerPanic
			}
			return failure(code, BlockedByRuntime, out.err.Error(),
				map[string]any{"tool": call.Name})
		}
		if out.result == nil {
			return failure(CodeHandlerError, BlockedByRuntime,
				"handler returned no result", map[string]any{"tool": call.Name})
		}
		return out.result
	}
}

// failure builds an unsuccessful result wrapping the error envelope.
func failure(code, blockedBy, message string, ctx map[string]any) *ToolResult {
	env := Envelope(code, blockedBy, message, ctx)
	return &ToolResult{
		Output:  env,
		Error:   message,
		Success: false,
	}
}
