package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/anvil/internal/gateway"
	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/preflight"
	"github.com/haasonsaas/anvil/internal/taskqueue"
)

func proposal(id, name, path string) gateway.ToolCall {
	return gateway.ToolCall{ID: id, Name: name, Arguments: map[string]any{"path": path}}
}

func newLoopFixture(t *testing.T, gw gateway.Gateway, tools ...Tool) *Loop {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	executor := NewExecutor(registry, ExecutorConfig{Timeout: 2 * time.Second}, nil, nil)
	pf := preflight.New(preflight.Config{}, nil, nil)
	return NewLoop(gw, registry, executor, pf, nil, nil, nil, LoopOptions{}, nil, nil)
}

func TestLoopCompletesOnPlainResponse(t *testing.T) {
	gw := gateway.NewScripted(&gateway.Response{Text: "all done", StopReason: "end_turn"})
	loop := newLoopFixture(t, gw)
	conv := NewConversation("conv_1", 8, 4)

	res := loop.Run(context.Background(), conv, "hello")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.FinalText != "all done" {
		t.Fatalf("FinalText = %q", res.FinalText)
	}
	if res.StepsUsed != 1 {
		t.Fatalf("StepsUsed = %d, want 1", res.StepsUsed)
	}
}

func TestLoopEmitsSpansWhenConfigured(t *testing.T) {
	spans, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "anvil-test"})
	defer shutdown(context.Background())

	executed := 0
	tool := newStub("read_file")
	tool.fn = func(ctx context.Context, args map[string]any) (*ToolResult, error) {
		executed++
		return &ToolResult{Output: "content", Success: true}, nil
	}

	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatal(err)
	}
	executor := NewExecutor(registry, ExecutorConfig{Timeout: 2 * time.Second}, nil, nil)
	pf := preflight.New(preflight.Config{}, nil, nil)
	gw := gateway.NewScripted(
		&gateway.Response{Text: "reading", ToolCalls: []gateway.ToolCall{proposal("c1", "read_file", "a.txt")}},
		&gateway.Response{Text: "done", StopReason: "end_turn"},
	)
	loop := NewLoop(gw, registry, executor, pf, nil, nil, nil, LoopOptions{Spans: spans}, nil, nil)
	conv := NewConversation("conv_1", 8, 4)

	res := loop.Run(context.Background(), conv, "go")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}
	if res.FinalText != "done" {
		t.Fatalf("FinalText = %q", res.FinalText)
	}
}

func TestLoopBudgetMidBatchHardStop(t *testing.T) {
	executed := 0
	tool := newStub("read_file")
	tool.fn = func(ctx context.Context, args map[string]any) (*ToolResult, error) {
		executed++
		return &ToolResult{Output: "content", Success: true}, nil
	}

	batch := make([]gateway.ToolCall, 5)
	for i := range batch {
		batch[i] = proposal(fmt.Sprintf("c%d", i), "read_file", fmt.Sprintf("f%d.txt", i))
	}
	gw := gateway.NewScripted(
		&gateway.Response{Text: "reading everything", ToolCalls: batch},
		&gateway.Response{Text: "summarized", StopReason: "end_turn"},
	)
	loop := newLoopFixture(t, gw, tool)
	conv := NewConversation("conv_1", 8, 2)

	res := loop.Run(context.Background(), conv, "go")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if executed != 2 {
		t.Fatalf("executed = %d, want exactly 2", executed)
	}

	budgetMsgs := 0
	skippedResults := 0
	for _, m := range conv.Messages {
		if m.Role == gateway.RoleSystem && strings.Contains(m.Content, "budget") && strings.Contains(m.Content, "skipped") {
			budgetMsgs++
		}
		if m.Role == gateway.RoleTool && strings.Contains(m.Content, "Call skipped") {
			skippedResults++
		}
	}
	if budgetMsgs != 1 {
		t.Fatalf("budget guidance messages = %d, want exactly 1", budgetMsgs)
	}
	if skippedResults != 3 {
		t.Fatalf("skipped results = %d, want 3", skippedResults)
	}

	// The next turn got a fresh per-step budget and could have used tools.
	if !conv.Exec.CanUseTool() {
		t.Fatal("per-step counter should have been reset at the next step boundary")
	}
}

func TestLoopIntentExhaustionForcesPlannerMode(t *testing.T) {
	tool := newStub("read_file")
	tool.fn = func(ctx context.Context, args map[string]any) (*ToolResult, error) {
		path, _ := args["path"].(string)
		msg := fmt.Sprintf("file not found: %s", path)
		return &ToolResult{Output: msg, Error: msg, Success: false}, nil
	}

	gw := gateway.NewScripted(
		&gateway.Response{Text: "trying a", ToolCalls: []gateway.ToolCall{proposal("c1", "read_file", "missing/a.txt")}},
		&gateway.Response{Text: "trying b", ToolCalls: []gateway.ToolCall{proposal("c2", "read_file", "missing/b.txt")}},
		&gateway.Response{Text: "trying c", ToolCalls: []gateway.ToolCall{proposal("c3", "read_file", "missing/c.txt")}},
		&gateway.Response{Text: "I will plan instead", StopReason: "end_turn"},
	)
	loop := newLoopFixture(t, gw, tool)
	conv := NewConversation("conv_1", 10, 4)

	res := loop.Run(context.Background(), conv, "read those files")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	exhaustedGuidance := false
	for _, m := range conv.Messages {
		if m.Role == gateway.RoleSystem && strings.Contains(m.Content, "INTENT EXHAUSTED") {
			exhaustedGuidance = true
		}
	}
	if !exhaustedGuidance {
		t.Fatal("expected INTENT EXHAUSTED guidance message")
	}
	if conv.Exec.Mode() != ModePlanner {
		t.Fatalf("mode = %q, want planner", conv.Exec.Mode())
	}
}

func TestLoopTaskBudgetExhaustion(t *testing.T) {
	dir := t.TempDir()
	queue, err := taskqueue.Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Add("demo", taskqueue.AddOptions{
		Budget: taskqueue.Budget{MaxToolCalls: 2, MaxSteps: 5},
	}); err != nil {
		t.Fatal(err)
	}
	task, err := queue.Next()
	if err != nil {
		t.Fatal(err)
	}

	tool := newStub("read_file")
	gw := gateway.NewScripted(
		&gateway.Response{Text: "step one", ToolCalls: []gateway.ToolCall{proposal("c1", "read_file", "a.txt")}},
		&gateway.Response{Text: "step two", ToolCalls: []gateway.ToolCall{proposal("c2", "read_file", "b.txt")}},
		&gateway.Response{Text: "never reached", ToolCalls: []gateway.ToolCall{proposal("c3", "read_file", "c.txt")}},
	)
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatal(err)
	}
	executor := NewExecutor(registry, ExecutorConfig{Timeout: 2 * time.Second}, nil, nil)
	pf := preflight.New(preflight.Config{}, nil, nil)
	loop := NewLoop(gw, registry, executor, pf, queue, nil, nil, LoopOptions{}, nil, nil)

	conv := NewConversation("conv_1", 10, 4)
	res := loop.RunTask(context.Background(), conv, task, "work the task")

	if res.Success {
		t.Fatal("budget exhaustion should not report success")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "BUDGET_EXHAUSTED") {
		t.Fatalf("Err = %v, want BUDGET_EXHAUSTED", res.Err)
	}
	if conv.Exec.TotalToolCalls() != 2 {
		t.Fatalf("tool calls = %d, want 2", conv.Exec.TotalToolCalls())
	}

	got, err := queue.Get(task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != taskqueue.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	errMeta, _ := got.Metadata["error"].(string)
	if !strings.Contains(errMeta, "BUDGET_EXHAUSTED") {
		t.Fatalf("metadata error = %q, want BUDGET_EXHAUSTED", errMeta)
	}

	md, err := os.ReadFile(queue.CheckpointPath(task.TaskID))
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if !strings.Contains(string(md), "read_file") {
		t.Fatalf("checkpoint should summarize the tool calls made:\n%s", md)
	}
	active, err := queue.Active()
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatalf("active pointer should be cleared, got %+v", active)
	}
}

func TestLoopForcedPlannerSwitchWaitsForBatch(t *testing.T) {
	conv := NewConversation("conv_1", 8, 4)

	var modeDuring Mode
	tool := newStub("read_file")
	tool.fn = func(ctx context.Context, args map[string]any) (*ToolResult, error) {
		modeDuring = conv.Exec.Mode()
		return &ToolResult{Output: "content", Success: true}, nil
	}

	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatal(err)
	}
	executor := NewExecutor(registry, ExecutorConfig{Timeout: 2 * time.Second}, nil, nil)

	// High thresholds keep the batch passing while the recovery ladder
	// escalates far enough to force planner mode.
	pf := preflight.New(preflight.Config{Breaker: preflight.BreakerConfig{
		FingerprintThreshold: 100,
		IntentThreshold:      100,
	}}, nil, nil)
	for i := 0; i < 5; i++ {
		pf.Breaker().RecordFailure(preflight.Call{
			ID:   fmt.Sprintf("old%d", i),
			Name: "read_file",
			Args: map[string]any{"path": fmt.Sprintf("old%d.txt", i)},
		}, "transient read failure")
	}

	gw := gateway.NewScripted(
		&gateway.Response{Text: "one more try", ToolCalls: []gateway.ToolCall{proposal("c1", "read_file", "a.txt")}},
		&gateway.Response{Text: "planning now", StopReason: "end_turn"},
	)
	loop := NewLoop(gw, registry, executor, pf, nil, nil, nil, LoopOptions{}, nil, nil)

	res := loop.Run(context.Background(), conv, "keep going")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if modeDuring != ModeBuilder {
		t.Fatalf("mode during the accepted batch = %q, want builder", modeDuring)
	}
	if conv.Exec.Mode() != ModePlanner {
		t.Fatalf("mode after the batch = %q, want planner", conv.Exec.Mode())
	}
}

func TestLoopPlannerModeDeniesTools(t *testing.T) {
	executed := 0
	tool := newStub("read_file")
	tool.fn = func(ctx context.Context, args map[string]any) (*ToolResult, error) {
		executed++
		return &ToolResult{Output: "content", Success: true}, nil
	}
	gw := gateway.NewScripted(
		&gateway.Response{Text: "let me read", ToolCalls: []gateway.ToolCall{proposal("c1", "read_file", "a.txt")}},
		&gateway.Response{Text: "plan: first inspect, then edit", StopReason: "end_turn"},
	)
	loop := newLoopFixture(t, gw, tool)
	conv := NewConversation("conv_1", 8, 4)
	conv.Exec.SetMode(ModePlanner)

	res := loop.Run(context.Background(), conv, "do the thing")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if executed != 0 {
		t.Fatalf("executed = %d, want 0 in planner mode", executed)
	}
}

func TestLoopGatewayErrorReturnsFailure(t *testing.T) {
	gw := gateway.NewScripted() // exhausted immediately
	loop := newLoopFixture(t, gw)
	conv := NewConversation("conv_1", 8, 4)

	res := loop.Run(context.Background(), conv, "hello")
	if res.Success {
		t.Fatal("gateway failure should not report success")
	}
	if res.Err == nil {
		t.Fatal("expected underlying error")
	}
	if res.FinalText == "" {
		t.Fatal("expected a generic user-facing message")
	}
}

func TestLoopStepLimit(t *testing.T) {
	tool := newStub("read_file")
	turns := make([]*gateway.Response, 6)
	for i := range turns {
		turns[i] = &gateway.Response{
			Text:      "still going",
			ToolCalls: []gateway.ToolCall{proposal(fmt.Sprintf("c%d", i), "read_file", fmt.Sprintf("f%d.txt", i))},
		}
	}
	gw := gateway.NewScripted(turns...)
	loop := newLoopFixture(t, gw, tool)
	conv := NewConversation("conv_1", 3, 4)

	res := loop.Run(context.Background(), conv, "loop forever")
	if res.Success {
		t.Fatal("step-limit exhaustion should not report success")
	}
	if res.StepsUsed != 3 {
		t.Fatalf("StepsUsed = %d, want 3", res.StepsUsed)
	}
}
