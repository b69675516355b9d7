package agent

import (
	"strings"
	"testing"
)

func TestToolBudgetPerStep(t *testing.T) {
	exec := NewExecutionContext(10, 2)
	if !exec.CanUseTool() {
		t.Fatal("fresh context should allow tool use")
	}
	exec.RecordToolUse()
	exec.RecordToolUse()
	if exec.CanUseTool() {
		t.Fatal("budget of 2 should be exhausted after 2 uses")
	}
}

func TestThinkStepResetsToolBudget(t *testing.T) {
	exec := NewExecutionContext(10, 2)
	exec.RecordToolUse()
	exec.RecordToolUse()
	if exec.CanUseTool() {
		t.Fatal("budget should be exhausted")
	}

	exec.AddStep(Step{Kind: StepThink, Content: "replanning"})
	if !exec.CanUseTool() {
		t.Fatal("think step must reset the per-step counter")
	}
	if exec.ToolCallsThisStep() != 0 {
		t.Fatalf("ToolCallsThisStep = %d, want 0", exec.ToolCallsThisStep())
	}
	if exec.TotalToolCalls() != 2 {
		t.Fatalf("TotalToolCalls = %d, want 2", exec.TotalToolCalls())
	}
}

func TestObserveStepDoesNotResetBudget(t *testing.T) {
	exec := NewExecutionContext(10, 2)
	exec.RecordToolUse()
	exec.RecordToolUse()
	exec.AddStep(Step{Kind: StepObserve, Result: &ToolResult{Success: true}})
	if exec.CanUseTool() {
		t.Fatal("observe step must not reset the per-step counter")
	}
}

func TestStepCountCountsThinkSteps(t *testing.T) {
	exec := NewExecutionContext(10, 2)
	exec.AddStep(Step{Kind: StepThink})
	exec.AddStep(Step{Kind: StepCallTool, ToolCall: &ToolCall{Name: "read_file"}})
	exec.AddStep(Step{Kind: StepObserve, Result: &ToolResult{Success: true}})
	exec.AddStep(Step{Kind: StepThink})
	if got := exec.StepCount(); got != 2 {
		t.Fatalf("StepCount = %d, want 2", got)
	}
}

func TestEnvelopeFormat(t *testing.T) {
	got := Envelope(CodeRuleBlocked, BlockedByRules, "command denied", map[string]any{"rule": "forbidden_command"})
	want := "ERROR [RULE_BLOCKED]\nBlocked by: rules\nMessage: command denied\nContext: {\"rule\":\"forbidden_command\"}"
	if got != want {
		t.Fatalf("envelope mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestEnvelopeOmitsEmptyContext(t *testing.T) {
	got := Envelope(CodeTimedOut, BlockedByRuntime, "timed out", nil)
	if strings.Contains(got, "Context:") {
		t.Fatalf("empty context should be omitted: %q", got)
	}
	if !strings.HasPrefix(got, "ERROR [TIMED_OUT]\n") {
		t.Fatalf("unexpected prefix: %q", got)
	}
}
