package gateway

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedReplaysTurnsInOrder(t *testing.T) {
	first := &Response{Text: "thinking", ToolCalls: []ToolCall{{
		ID:        "call_1",
		Name:      "read_file",
		Arguments: map[string]any{"path": "a.go"},
	}}}
	second := &Response{Text: "done", StopReason: "end_turn"}
	g := NewScripted(first, second)

	resp, err := g.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Fatalf("unexpected first turn: %+v", resp)
	}

	resp, err = g.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if resp.Text != "done" {
		t.Fatalf("Text = %q, want done", resp.Text)
	}
	if g.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", g.Remaining())
	}

	if _, err := g.Complete(context.Background(), &Request{}); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("exhausted error = %v, want ErrScriptExhausted", err)
	}
}

func TestScriptedRecordsRequests(t *testing.T) {
	g := NewScripted(&Response{Text: "ok"})
	req := &Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	if _, err := g.Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	got := g.Requests()
	if len(got) != 1 || got[0].System != "sys" {
		t.Fatalf("Requests = %+v", got)
	}
}

func TestScriptedHonorsCancellation(t *testing.T) {
	g := NewScripted(&Response{Text: "never"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Complete(ctx, &Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if g.Remaining() != 1 {
		t.Fatalf("cancelled call consumed a turn")
	}
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}, nil, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}, nil, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
