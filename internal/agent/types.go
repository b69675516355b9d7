// Package agent contains the execution engine core: the conversation data
// model, the tool registry and executor, the safety rule engine, the
// advisory judge, and the loop that drives one turn from user message to
// final response.
package agent

import (
	"time"
)

// Mode controls which tool surface the loop exposes.
type Mode string

const (
	// ModePlanner disables tool execution; the model must plan in prose.
	ModePlanner Mode = "planner"

	// ModeBuilder allows tool execution.
	ModeBuilder Mode = "builder"
)

// ToolCall is a proposal produced by the model. Immutable after creation;
// the executor applies path rewrites to a copy of the arguments.
type ToolCall struct {
	// ID is the stable id the model assigned to the proposal.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the parsed argument mapping.
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	// CallID back-references the proposal. The executor enforces that
	// this equals the proposal's id, overwriting when a handler omits it.
	CallID string `json:"call_id"`

	// Output is the content surfaced to the model.
	Output string `json:"output"`

	// Error is the error text when the call failed.
	Error string `json:"error,omitempty"`

	// Success is false for any failure, timeout, or denial.
	Success bool `json:"success"`
}

// StepKind classifies entries in the execution context's step list.
type StepKind string

const (
	// StepThink records model prose at a turn boundary.
	StepThink StepKind = "think"

	// StepCallTool records a proposal handed to the executor.
	StepCallTool StepKind = "call_tool"

	// StepObserve records a tool result.
	StepObserve StepKind = "observe"

	// StepRespond records the final assistant response.
	StepRespond StepKind = "respond"

	// StepError records a loop-level failure.
	StepError StepKind = "error"
)

// Step is one entry in the execution trace of a conversation.
type Step struct {
	Kind     StepKind    `json:"kind"`
	Content  string      `json:"content,omitempty"`
	ToolCall *ToolCall   `json:"tool_call,omitempty"`
	Result   *ToolResult `json:"result,omitempty"`
	At       time.Time   `json:"at"`
}

// ExecutionContext is the per-conversation mutable state the loop owns:
// the step list, the step counter, and the per-step tool budget. It is
// accessed only from the loop goroutine and needs no locking.
type ExecutionContext struct {
	mode Mode

	maxSteps            int
	maxToolCallsPerStep int

	steps             []Step
	toolCallsThisStep int
	totalToolCalls    int
}

// NewExecutionContext creates a context in builder mode with the given
// limits. Zero limits fall back to 16 steps and 8 tool calls per step.
func NewExecutionContext(maxSteps, maxToolCallsPerStep int) *ExecutionContext {
	if maxSteps <= 0 {
		maxSteps = 16
	}
	if maxToolCallsPerStep <= 0 {
		maxToolCallsPerStep = 8
	}
	return &ExecutionContext{
		mode:                ModeBuilder,
		maxSteps:            maxSteps,
		maxToolCallsPerStep: maxToolCallsPerStep,
	}
}

// Mode returns the current mode.
func (e *ExecutionContext) Mode() Mode { return e.mode }

// SetMode switches modes; the loop calls this when preflight forces
// planner mode.
func (e *ExecutionContext) SetMode(m Mode) { e.mode = m }

// AddStep appends a step. A think step is a step boundary: it resets the
// per-step tool counter so the next batch gets a fresh budget. Observe and
// call steps within a batch do not reset it.
func (e *ExecutionContext) AddStep(s Step) {
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	e.steps = append(e.steps, s)
	if s.Kind == StepThink {
		e.toolCallsThisStep = 0
	}
}

// Steps returns the step list. Callers must not mutate it.
func (e *ExecutionContext) Steps() []Step { return e.steps }

// StepCount returns the number of think steps consumed, the unit the
// max-steps limit is measured in.
func (e *ExecutionContext) StepCount() int {
	n := 0
	for _, s := range e.steps {
		if s.Kind == StepThink {
			n++
		}
	}
	return n
}

// MaxSteps returns the step limit.
func (e *ExecutionContext) MaxSteps() int { return e.maxSteps }

// CanUseTool reports whether the per-step tool budget allows another
// execution.
func (e *ExecutionContext) CanUseTool() bool {
	return e.toolCallsThisStep < e.maxToolCallsPerStep
}

// RecordToolUse charges one execution against the per-step and total
// counters.
func (e *ExecutionContext) RecordToolUse() {
	e.toolCallsThisStep++
	e.totalToolCalls++
}

// ToolCallsThisStep returns the per-step counter.
func (e *ExecutionContext) ToolCallsThisStep() int { return e.toolCallsThisStep }

// TotalToolCalls returns the total executions across the conversation.
func (e *ExecutionContext) TotalToolCalls() int { return e.totalToolCalls }
