// Package taskqueue is the durable work queue: an append-only JSONL record
// of task packets, markdown checkpoints, and a single active-task pointer.
// A worker pops exactly one bounded task, runs it, and leaves a resume
// artifact, so progress survives process restarts.
package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	// StatusQueued means the task is waiting for a worker.
	StatusQueued Status = "queued"

	// StatusRunning means a worker holds the task.
	StatusRunning Status = "running"

	// StatusDone is terminal success.
	StatusDone Status = "done"

	// StatusFailed is terminal failure; the error lives in metadata.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Common sentinel errors for queue operations.
var (
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminalState indicates a transition out of done or failed.
	ErrTerminalState = errors.New("task is in a terminal state")
)

// Budget bounds a task's resource consumption under the loop.
type Budget struct {
	// MaxToolCalls caps tool executions across the task's turns.
	MaxToolCalls int `json:"max_tool_calls"`

	// MaxSteps caps loop steps across the task's turns.
	MaxSteps int `json:"max_steps"`
}

// Task is one bounded unit of work, the atomic thing the queue distributes.
// Each task occupies one line of tasks.jsonl holding its latest state.
type Task struct {
	// TaskID is sequential by position: task_0001, task_0002, ...
	TaskID string `json:"task_id"`

	// ParentID links spawned subtasks to their parent. Empty for roots.
	ParentID string `json:"parent_id,omitempty"`

	// Objective is what the task should accomplish.
	Objective string `json:"objective"`

	// Inputs are references the worker starts from (paths, chunk ids, URLs).
	Inputs []string `json:"inputs"`

	// Acceptance describes when the task counts as done.
	Acceptance string `json:"acceptance"`

	// Budget bounds the task.
	Budget Budget `json:"budget"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// CreatedAt and UpdatedAt are UTC.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Metadata holds arbitrary task metadata; "error" is set on failure.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate queue state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Inputs != nil {
		cp.Inputs = append([]string(nil), t.Inputs...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ActivePointer is the active_task.json payload: the one task currently in
// the running state. Its absence means the worker is idle.
type ActivePointer struct {
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// AddOptions configures a new task.
type AddOptions struct {
	Inputs     []string
	Acceptance string
	ParentID   string
	Budget     Budget
	Metadata   map[string]any
}

func taskID(seq int) string {
	return fmt.Sprintf("task_%04d", seq)
}

func marshalTask(t *Task) ([]byte, error) {
	line, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", t.TaskID, err)
	}
	return line, nil
}
