package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEvent kinds.
const (
	TraceTurnStart  = "turn_start"
	TraceGateway    = "gateway_response"
	TraceToolCall   = "tool_call"
	TraceToolResult = "tool_result"
	TraceGuidance   = "guidance"
)

// TraceEvent is one line in a run's trace file.
type TraceEvent struct {
	Kind      string      `json:"kind"`
	At        time.Time   `json:"at"`
	Step      int         `json:"step,omitempty"`
	Text      string      `json:"text,omitempty"`
	ToolCall  *ToolCall   `json:"tool_call,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms,omitempty"`
}

// Tracer writes trace events as JSONL, one line per event, flushed per
// line so a crash loses at most the event in flight.
type Tracer struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	closed bool
}

// NewTracer writes to w. Used by tests.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// OpenTracer creates runs/<runID>/trace.jsonl under runsDir and returns a
// tracer appending to it.
func OpenTracer(runsDir, runID string) (*Tracer, error) {
	dir := filepath.Join(runsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "trace.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &Tracer{w: f, file: f}, nil
}

// Emit writes one event. Errors are swallowed: tracing never fails a
// turn.
func (t *Tracer) Emit(ev TraceEvent) {
	if t == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.w.Write(append(line, '\n'))
	if t.file != nil {
		t.file.Sync()
	}
}

// Close releases the underlying file, if any.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}
