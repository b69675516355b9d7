package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/anvil/internal/gateway"
	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/preflight"
	"github.com/haasonsaas/anvil/internal/taskqueue"
)

// MessageSink receives messages as the loop commits them to the
// conversation. A sessions store implements this; nil disables
// persistence.
type MessageSink interface {
	Append(ctx context.Context, conversationID string, msg gateway.Message) error
}

// Conversation is the long-lived state the loop owns: the FIFO message
// history and the execution context. One goroutine at a time.
type Conversation struct {
	ID       string
	Messages []gateway.Message
	Exec     *ExecutionContext
}

// NewConversation creates a conversation with fresh state.
func NewConversation(id string, maxSteps, maxToolCallsPerStep int) *Conversation {
	return &Conversation{
		ID:   id,
		Exec: NewExecutionContext(maxSteps, maxToolCallsPerStep),
	}
}

// LoopResult reports the outcome of one turn. The step list on the
// conversation reflects exactly what ran; nothing is hidden on failure.
type LoopResult struct {
	// Success is false for gateway failures, step-limit exhaustion, and
	// task budget exhaustion.
	Success bool

	// FinalText is the assistant's last prose, or a generic failure
	// message.
	FinalText string

	// StepsUsed is the number of steps this turn consumed.
	StepsUsed int

	// Err carries the underlying failure for logs. Nil on success.
	Err error
}

// LoopOptions configures a loop.
type LoopOptions struct {
	// SystemPrompt is sent with every gateway request.
	SystemPrompt string

	// Model overrides the gateway default when set.
	Model string

	// MaxTokens caps each completion.
	MaxTokens int

	// DisableJudge turns off the advisory post-batch inspection.
	DisableJudge bool

	// Spans emits OpenTelemetry spans for turns, gateway calls, and tool
	// executions. Nil disables span emission.
	Spans *observability.Tracer
}

// Loop drives one conversation turn to completion: gateway call,
// preflight, tool execution under budget, breaker updates, judge
// guidance, and task budget enforcement.
type Loop struct {
	gw        gateway.Gateway
	registry  *Registry
	executor  *Executor
	preflight *preflight.Preflight
	judge     *Judge
	tracer    *Tracer
	queue     *taskqueue.Queue
	sink      MessageSink
	opts      LoopOptions
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewLoop wires a loop. queue, sink, tracer, and metrics may be nil.
func NewLoop(gw gateway.Gateway, registry *Registry, executor *Executor, pf *preflight.Preflight,
	queue *taskqueue.Queue, sink MessageSink, tracer *Tracer, opts LoopOptions,
	logger *observability.Logger, metrics *observability.Metrics) *Loop {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Loop{
		gw:        gw,
		registry:  registry,
		executor:  executor,
		preflight: pf,
		judge:     NewJudge(),
		tracer:    tracer,
		queue:     queue,
		sink:      sink,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run drives one turn with no active task.
func (l *Loop) Run(ctx context.Context, conv *Conversation, userMessage string) *LoopResult {
	return l.run(ctx, conv, userMessage, nil)
}

// RunTask drives one turn under a task packet's budget. Exhausting the
// budget marks the task failed with BUDGET_EXHAUSTED, writes a
// checkpoint, and clears the active-task pointer; the conversation
// itself may continue afterwards.
func (l *Loop) RunTask(ctx context.Context, conv *Conversation, task *taskqueue.Task, userMessage string) *LoopResult {
	return l.run(ctx, conv, userMessage, task)
}

func (l *Loop) run(ctx context.Context, conv *Conversation, userMessage string, task *taskqueue.Task) *LoopResult {
	ctx = observability.WithConversationID(ctx, conv.ID)
	if task != nil {
		ctx = observability.WithTaskID(ctx, task.TaskID)
	}
	ctx, turnSpan := l.opts.Spans.TraceTurn(ctx, observability.RunIDFrom(ctx), conv.ID)
	defer turnSpan.End()

	exec := conv.Exec
	l.append(ctx, conv, gateway.Message{Role: gateway.RoleUser, Content: userMessage})
	l.trace(TraceEvent{Kind: TraceTurnStart, Text: userMessage})

	// Guidance already injected this turn, keyed by text.
	injected := map[string]bool{}

	stepsAtEntry := exec.StepCount()
	toolCallsAtEntry := exec.TotalToolCalls()
	stepsThisTurn := func() int { return exec.StepCount() - stepsAtEntry }

	for stepsThisTurn() < exec.MaxSteps() {
		gwCtx, gwSpan := l.opts.Spans.TraceGatewayRequest(ctx, l.gw.Provider(), l.gw.Model())
		resp, err := l.gw.Complete(gwCtx, &gateway.Request{
			Model:     l.opts.Model,
			System:    l.opts.SystemPrompt,
			Messages:  conv.Messages,
			Tools:     l.registry.Definitions(),
			MaxTokens: l.opts.MaxTokens,
		})
		l.opts.Spans.RecordError(gwSpan, err)
		gwSpan.End()
		if err != nil {
			exec.AddStep(Step{Kind: StepError, Content: err.Error()})
			l.logger.Error(ctx, "gateway call failed", "error", err)
			l.observeTurn("gateway_error", stepsThisTurn())
			return &LoopResult{
				FinalText: "The request could not be completed due to an internal error.",
				StepsUsed: stepsThisTurn(),
				Err:       err,
			}
		}

		exec.AddStep(Step{Kind: StepThink, Content: resp.Text})
		l.trace(TraceEvent{Kind: TraceGateway, Step: stepsThisTurn(), Text: resp.Text})
		l.preflight.Breaker().SetStep(exec.StepCount())

		if len(resp.ToolCalls) == 0 {
			exec.AddStep(Step{Kind: StepRespond, Content: resp.Text})
			l.append(ctx, conv, gateway.Message{Role: gateway.RoleAssistant, Content: resp.Text})
			l.observeTurn("completed", stepsThisTurn())
			return &LoopResult{Success: true, FinalText: resp.Text, StepsUsed: stepsThisTurn()}
		}

		proposals := toAgentCalls(resp.ToolCalls)
		l.append(ctx, conv, gateway.Message{
			Role:      gateway.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		pf := l.preflight.Check(ctx, toPreflightCalls(proposals), exec.Mode() == ModePlanner, resp.Text)
		if !pf.Passed {
			l.guide(ctx, conv, injected, preflightGuidance(pf))
			if pf.ForcePlanMode {
				exec.SetMode(ModePlanner)
			}
			// Answer every proposal so providers that require tool
			// results for each call stay consistent.
			for _, p := range proposals {
				l.append(ctx, conv, gateway.Message{
					Role:       gateway.RoleTool,
					ToolCallID: p.ID,
					Content:    "Call not executed: " + firstReason(pf.Reasons),
				})
			}
			// The think step above is the boundary that refreshes the
			// per-step tool budget for the next iteration.
			continue
		}
		for _, w := range pf.Warnings {
			l.guide(ctx, conv, injected, w)
		}

		budgetHit := false
		skipped := 0
		for i, p := range proposals {
			if !exec.CanUseTool() {
				budgetHit = true
				skipped = len(proposals) - i
				break
			}
			exec.RecordToolUse()
			exec.AddStep(Step{Kind: StepCallTool, ToolCall: &proposals[i]})
			l.trace(TraceEvent{Kind: TraceToolCall, Step: stepsThisTurn(), ToolCall: &proposals[i]})

			start := time.Now()
			toolCtx, toolSpan := l.opts.Spans.TraceToolExecution(ctx, p.Name)
			result := l.executor.Execute(toolCtx, p, pf.Rewrites[p.ID])
			toolSpan.End()
			elapsed := time.Since(start)

			exec.AddStep(Step{Kind: StepObserve, Result: result})
			l.trace(TraceEvent{Kind: TraceToolResult, Step: stepsThisTurn(), Result: result, ElapsedMS: elapsed.Milliseconds()})

			pfCall := preflight.Call{ID: p.ID, Name: p.Name, Args: p.Arguments}
			if result.Success {
				l.preflight.Breaker().RecordSuccess(pfCall)
			} else {
				l.preflight.Breaker().RecordFailure(pfCall, result.Error)
			}

			l.append(ctx, conv, gateway.Message{
				Role:       gateway.RoleTool,
				ToolCallID: p.ID,
				Content:    result.Output,
			})
		}

		if budgetHit {
			msg := fmt.Sprintf("Tool budget for this step is exhausted; %d call(s) were skipped. Summarize progress and replan before requesting more tools.", skipped)
			l.guideAlways(ctx, conv, msg)
			// Skipped proposals still need tool results.
			for _, p := range proposals[len(proposals)-skipped:] {
				l.append(ctx, conv, gateway.Message{
					Role:       gateway.RoleTool,
					ToolCallID: p.ID,
					Content:    "Call skipped: step tool budget exhausted.",
				})
			}
		}

		// An accepted batch runs to completion in the current mode; the
		// forced switch takes effect from the next proposal batch on.
		if pf.ForcePlanMode {
			exec.SetMode(ModePlanner)
		}

		if !l.opts.DisableJudge {
			for _, jd := range l.judge.Inspect(exec.Steps()) {
				l.guide(ctx, conv, injected, judgeGuidance(jd))
			}
		}

		if task != nil {
			used := exec.TotalToolCalls() - toolCallsAtEntry
			if exhausted, what := taskBudgetExhausted(task, used, stepsThisTurn()); exhausted {
				return l.failTaskBudget(ctx, conv, task, what, stepsThisTurn())
			}
		}
	}

	l.observeTurn("step_limit", stepsThisTurn())
	return &LoopResult{
		FinalText: "The step limit for this turn was reached before the work completed.",
		StepsUsed: stepsThisTurn(),
		Err:       fmt.Errorf("step limit of %d reached", exec.MaxSteps()),
	}
}

// taskBudgetExhausted reports whether the packet's budget is used up and
// which limit was hit.
func taskBudgetExhausted(task *taskqueue.Task, toolCalls, steps int) (bool, string) {
	if task.Budget.MaxToolCalls > 0 && toolCalls >= task.Budget.MaxToolCalls {
		return true, fmt.Sprintf("tool-call budget of %d", task.Budget.MaxToolCalls)
	}
	if task.Budget.MaxSteps > 0 && steps >= task.Budget.MaxSteps {
		return true, fmt.Sprintf("step budget of %d", task.Budget.MaxSteps)
	}
	return false, ""
}

// failTaskBudget marks the active task failed with BUDGET_EXHAUSTED,
// writes its checkpoint, and returns. The queue clears the active-task
// pointer as part of MarkFailed.
func (l *Loop) failTaskBudget(ctx context.Context, conv *Conversation, task *taskqueue.Task, what string, steps int) *LoopResult {
	errMsg := fmt.Sprintf("%s: task %s exceeded its %s", CodeBudgetExhausted, task.TaskID, what)
	cp := &taskqueue.Checkpoint{
		TaskID:   task.TaskID,
		Done:     summarizeSteps(conv.Exec.Steps()),
		Next:     "Re-plan the task with a larger budget or a smaller objective.",
		Blockers: []string{errMsg},
	}
	if l.queue != nil {
		if err := l.queue.MarkFailed(task.TaskID, errMsg, cp); err != nil {
			l.logger.Error(ctx, "failed to mark task failed", "task_id", task.TaskID, "error", err)
		}
	}
	l.logger.Warn(ctx, "task budget exhausted", "task_id", task.TaskID, "limit", what)
	l.observeTurn("task_budget_exhausted", steps)
	return &LoopResult{
		FinalText: fmt.Sprintf("Task %s stopped: its %s was exhausted.", task.TaskID, what),
		StepsUsed: steps,
		Err:       fmt.Errorf("%s", errMsg),
	}
}

// summarizeSteps renders recent tool activity as checkpoint prose.
func summarizeSteps(steps []Step) string {
	var names []string
	for _, s := range steps {
		if s.Kind == StepCallTool && s.ToolCall != nil {
			names = append(names, s.ToolCall.Name)
		}
	}
	if len(names) == 0 {
		return "No tool calls completed before the budget ran out."
	}
	if len(names) > 8 {
		names = names[len(names)-8:]
	}
	return "Tool calls before the budget ran out: " + strings.Join(names, ", ") + "."
}

// guide appends a system guidance message at most once per turn.
func (l *Loop) guide(ctx context.Context, conv *Conversation, injected map[string]bool, text string) {
	if text == "" || injected[text] {
		return
	}
	injected[text] = true
	l.guideAlways(ctx, conv, text)
}

func (l *Loop) guideAlways(ctx context.Context, conv *Conversation, text string) {
	l.append(ctx, conv, gateway.Message{Role: gateway.RoleSystem, Content: text})
	l.trace(TraceEvent{Kind: TraceGuidance, Text: text})
}

// append commits a message to the conversation and the session sink.
func (l *Loop) append(ctx context.Context, conv *Conversation, msg gateway.Message) {
	conv.Messages = append(conv.Messages, msg)
	if l.sink != nil {
		if err := l.sink.Append(ctx, conv.ID, msg); err != nil {
			l.logger.Warn(ctx, "session append failed", "error", err)
		}
	}
}

func (l *Loop) trace(ev TraceEvent) {
	if l.tracer != nil {
		l.tracer.Emit(ev)
	}
}

func (l *Loop) observeTurn(outcome string, steps int) {
	if l.metrics == nil {
		return
	}
	l.metrics.LoopTurns.WithLabelValues(outcome).Inc()
	l.metrics.LoopSteps.Observe(float64(steps))
}

func preflightGuidance(r preflight.Result) string {
	var b strings.Builder
	b.WriteString("Tool calls were not executed:\n")
	for _, reason := range r.Reasons {
		b.WriteString("- " + reason + "\n")
	}
	for _, w := range r.Warnings {
		b.WriteString("- " + w + "\n")
	}
	if r.ForcePlanMode {
		b.WriteString("Switching to planner mode: describe your plan in prose before using tools again.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func judgeGuidance(jd Judgment) string {
	return fmt.Sprintf("Advisory (%s): %s. %s", jd.Severity, jd.Reason, jd.Suggestion)
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return "preflight denied the batch"
	}
	return reasons[0]
}

func toAgentCalls(calls []gateway.ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toPreflightCalls(calls []ToolCall) []preflight.Call {
	out := make([]preflight.Call, len(calls))
	for i, c := range calls {
		out[i] = preflight.Call{ID: c.ID, Name: c.Name, Args: c.Arguments}
	}
	return out
}
