package preflight

import (
	"context"
	"strings"
	"testing"
)

func readCall(id, path string) Call {
	return Call{ID: id, Name: "read_file", Args: map[string]any{"path": path}}
}

func newPreflight() *Preflight {
	return New(Config{}, nil, nil)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		call Call
		want Intent
	}{
		{readCall("1", "a.go"), IntentInspectFile},
		{Call{Name: "list_dir", Args: map[string]any{"path": "."}}, IntentExploreDirectory},
		{Call{Name: "search_code", Args: map[string]any{"query": "x"}}, IntentSearchCode},
		{Call{Name: "semantic_search", Args: map[string]any{"query": "x"}}, IntentSearchCode},
		{Call{Name: "write_file", Args: map[string]any{"path": "main.go"}}, IntentWriteCode},
		{Call{Name: "write_file", Args: map[string]any{"path": "notes/a.md"}}, IntentWriteDocument},
		{Call{Name: "create_dirs", Args: map[string]any{"path": "x/y"}}, IntentCreateStructure},
		{Call{Name: "run_command", Args: map[string]any{"command": "go test ./..."}}, IntentRunTests},
		{Call{Name: "run_command", Args: map[string]any{"command": "ls"}}, IntentOtherAction},
		{Call{Name: "http_fetch", Args: map[string]any{"url": "https://x"}}, IntentNetworkFetch},
		{Call{Name: "mystery_tool", Args: nil}, IntentOtherAction},
	}
	for _, tc := range cases {
		if got := Classify(tc.call); got != tc.want {
			t.Errorf("Classify(%s) = %s, want %s", tc.call.Name, got, tc.want)
		}
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Call{Name: "read_file", Args: map[string]any{"path": "a.go", "limit": 10}}
	b := Call{Name: "read_file", Args: map[string]any{"limit": 10, "path": "a.go"}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint depends on argument order")
	}
	c := Call{Name: "read_file", Args: map[string]any{"path": "b.go", "limit": 10}}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different arguments share a fingerprint")
	}
}

func TestFingerprintTrip(t *testing.T) {
	p := newPreflight()
	call := readCall("1", "flaky.txt")

	// Transient errors so the intent does not exhaust first.
	p.Breaker().RecordFailure(call, "connection reset")
	p.Breaker().RecordFailure(call, "connection reset")

	res := p.Check(context.Background(), []Call{call}, false, "")
	if res.Passed {
		t.Fatal("batch passed after two identical failures")
	}
	if !containsSubstring(res.Reasons, "CIRCUIT BREAKER") {
		t.Errorf("reasons = %v, want CIRCUIT BREAKER", res.Reasons)
	}
}

func TestFingerprintResetOnSuccess(t *testing.T) {
	p := newPreflight()
	call := readCall("1", "flaky.txt")

	p.Breaker().RecordFailure(call, "connection reset")
	p.Breaker().RecordSuccess(call)
	p.Breaker().RecordFailure(call, "connection reset")

	if res := p.Check(context.Background(), []Call{call}, false, ""); !res.Passed {
		t.Errorf("batch failed after reset: %v", res.Reasons)
	}
}

func TestIntentExhaustion(t *testing.T) {
	p := newPreflight()

	// Three transient failures across different arguments, same intent.
	p.Breaker().RecordFailure(readCall("1", "a.txt"), "timeout")
	p.Breaker().RecordFailure(readCall("2", "b.txt"), "timeout")
	p.Breaker().RecordFailure(readCall("3", "c.txt"), "timeout")

	res := p.Check(context.Background(), []Call{readCall("4", "d.txt")}, false, "")
	if res.Passed {
		t.Fatal("batch passed after intent exhaustion")
	}
	if !containsSubstring(res.Reasons, "INTENT EXHAUSTED") {
		t.Errorf("reasons = %v, want INTENT EXHAUSTED", res.Reasons)
	}
	if !res.ForcePlanMode {
		t.Error("intent exhaustion did not force planner mode")
	}
}

func TestDeterministicErrorsWeighDouble(t *testing.T) {
	p := newPreflight()

	// Two not-found failures: weight 4 >= threshold 3.
	p.Breaker().RecordFailure(readCall("1", "a.txt"), "file not found: a.txt")
	p.Breaker().RecordFailure(readCall("2", "b.txt"), "file not found: b.txt")

	exhausted, weight := p.Breaker().IntentExhausted(IntentInspectFile)
	if !exhausted {
		t.Fatalf("intent not exhausted at weight %d", weight)
	}
	if weight != 4 {
		t.Errorf("weight = %d, want 4", weight)
	}
}

func TestOverrideConsumesOnce(t *testing.T) {
	p := newPreflight()
	exhaust := func() {
		p.Breaker().RecordFailure(readCall("1", "x1.txt"), "timeout")
		p.Breaker().RecordFailure(readCall("2", "x2.txt"), "timeout")
		p.Breaker().RecordFailure(readCall("3", "x3.txt"), "timeout")
	}

	exhaust()
	attempt := Call{ID: "4", Name: "read_file", Args: map[string]any{"path": "fresh.txt"}}

	res := p.Check(context.Background(), []Call{attempt}, false, "OVERRIDE: the first attempts used the wrong base directory")
	if !res.Passed {
		t.Fatalf("batch with OVERRIDE failed: %v", res.Reasons)
	}

	// Exhaust again; a second OVERRIDE must not clear it.
	exhaust()
	res = p.Check(context.Background(), []Call{attempt}, false, "OVERRIDE: trying once more")
	if res.Passed {
		t.Fatal("second OVERRIDE cleared the intent")
	}
	if !containsSubstring(res.Warnings, "already used") {
		t.Errorf("warnings = %v, want one-shot rejection note", res.Warnings)
	}
}

func TestPathGate(t *testing.T) {
	p := newPreflight()
	p.Breaker().RecordFailure(readCall("1", "ghost/config.yaml"), "file not found: ghost/config.yaml")

	res := p.Check(context.Background(), []Call{
		{ID: "2", Name: "write_file", Args: map[string]any{"path": "ghost/config.yaml", "content": "x"}},
	}, false, "")
	if res.Passed {
		t.Fatal("proposal naming a bad path passed")
	}
	if !containsSubstring(res.Reasons, "PATH GATE") {
		t.Errorf("reasons = %v, want PATH GATE", res.Reasons)
	}
}

func TestPathGateClearsOnSuccess(t *testing.T) {
	p := newPreflight()
	call := readCall("1", "late/file.txt")
	p.Breaker().RecordFailure(call, "file not found")
	p.Breaker().RecordSuccess(call)

	if res := p.Check(context.Background(), []Call{call}, false, ""); !res.Passed {
		t.Errorf("path gate persisted after success: %v", res.Reasons)
	}
}

func TestPlannerModeDeniesAll(t *testing.T) {
	p := newPreflight()
	calls := []Call{readCall("1", "a.txt"), readCall("2", "b.txt")}

	res := p.Check(context.Background(), calls, true, "")
	if res.Passed {
		t.Fatal("planner mode passed tools")
	}
	if len(res.Reasons) != len(calls) {
		t.Errorf("got %d reasons for %d calls", len(res.Reasons), len(calls))
	}
	for _, r := range res.Reasons {
		if !strings.Contains(r, "Planner mode is active") {
			t.Errorf("reason = %q", r)
		}
	}
}

func TestSafeRewrite(t *testing.T) {
	p := newPreflight()
	call := Call{ID: "c1", Name: "read_file", Args: map[string]any{"path": "workspace\\workspace\\notes\\a.md"}}

	res := p.Check(context.Background(), []Call{call}, false, "")
	if !res.Passed {
		t.Fatalf("rewrite candidate failed preflight: %v", res.Reasons)
	}
	rw := res.Rewrites["c1"]
	if rw == nil {
		t.Fatal("no rewrite attached")
	}
	if rw.Rewritten != "workspace/notes/a.md" {
		t.Errorf("rewritten = %q", rw.Rewritten)
	}
	if rw.Safety != RewriteSafe {
		t.Errorf("safety = %s, want SAFE", rw.Safety)
	}
	// Preflight must not touch the proposal itself.
	if call.Args["path"] != "workspace\\workspace\\notes\\a.md" {
		t.Error("preflight mutated the proposal arguments")
	}
}

func TestCapabilityWarning(t *testing.T) {
	p := newPreflight()
	res := p.Check(context.Background(), []Call{
		{ID: "1", Name: "read_file", Args: map[string]any{"path": "diagram.png"}},
	}, false, "")
	if !res.Passed {
		t.Fatalf("capability warning failed the batch: %v", res.Reasons)
	}
	if !containsSubstring(res.Warnings, "binary") {
		t.Errorf("warnings = %v, want capability note", res.Warnings)
	}
}

func TestRecoveryLadder(t *testing.T) {
	p := newPreflight()
	check := func() Result {
		return p.Check(context.Background(), []Call{
			{ID: "n", Name: "list_dir", Args: map[string]any{"path": "src"}},
		}, false, "")
	}
	fail := func(i int) {
		p.Breaker().RecordFailure(Call{Name: "list_dir", Args: map[string]any{"path": "src", "n": i}}, "timeout")
	}

	fail(1)
	if res := check(); !containsSubstring(res.Warnings, "retry") {
		t.Errorf("after 1 failure: %v", res.Warnings)
	}
	fail(2)
	if res := check(); !containsSubstring(res.Warnings, "different tool") {
		t.Errorf("after 2 failures: %v", res.Warnings)
	}
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
