// Package taskops provides the queue tools: add_task and save_checkpoint.
package taskops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/taskqueue"
	"github.com/haasonsaas/anvil/internal/tools"
)

// AddTask enqueues a new task packet.
type AddTask struct {
	queue *taskqueue.Queue
}

// NewAddTask creates the add_task tool.
func NewAddTask(queue *taskqueue.Queue) *AddTask {
	return &AddTask{queue: queue}
}

func (t *AddTask) Name() string { return "add_task" }

func (t *AddTask) Description() string {
	return "Add a task packet to the queue with an objective, acceptance criterion, and budget."
}

func (t *AddTask) Schema() json.RawMessage {
	return schemaJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"objective": map[string]any{
				"type":        "string",
				"description": "What the task should accomplish.",
			},
			"acceptance": map[string]any{
				"type":        "string",
				"description": "How to tell the task is done.",
			},
			"inputs": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Paths or references the task needs.",
			},
			"parent_id": map[string]any{
				"type":        "string",
				"description": "Id of the parent task, if this is a subtask.",
			},
			"max_tool_calls": map[string]any{
				"type":        "integer",
				"description": "Tool-call budget for the task.",
				"minimum":     1,
			},
			"max_steps": map[string]any{
				"type":        "integer",
				"description": "Step budget for the task.",
				"minimum":     1,
			},
		},
		"required": []string{"objective"},
	})
}

func (t *AddTask) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	objective := tools.StringArg(args, "objective", "")
	id, err := t.queue.Add(objective, taskqueue.AddOptions{
		Inputs:     tools.StringSliceArg(args, "inputs"),
		Acceptance: tools.StringArg(args, "acceptance", ""),
		ParentID:   tools.StringArg(args, "parent_id", ""),
		Budget: taskqueue.Budget{
			MaxToolCalls: tools.IntArg(args, "max_tool_calls", 0),
			MaxSteps:     tools.IntArg(args, "max_steps", 0),
		},
	})
	if err != nil {
		return tools.FailErr(err, map[string]any{"objective": objective}), nil
	}
	return tools.Ok(fmt.Sprintf("Queued %s: %s", id, objective)), nil
}

// SaveCheckpoint writes a mid-task checkpoint for the active task.
type SaveCheckpoint struct {
	queue *taskqueue.Queue
}

// NewSaveCheckpoint creates the save_checkpoint tool.
func NewSaveCheckpoint(queue *taskqueue.Queue) *SaveCheckpoint {
	return &SaveCheckpoint{queue: queue}
}

func (t *SaveCheckpoint) Name() string { return "save_checkpoint" }

func (t *SaveCheckpoint) Description() string {
	return "Save a checkpoint for a task recording what was done, what changed, and what's next."
}

func (t *SaveCheckpoint) Schema() json.RawMessage {
	return schemaJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Task the checkpoint belongs to. Defaults to the active task.",
			},
			"done": map[string]any{
				"type":        "string",
				"description": "Prose describing what was accomplished.",
			},
			"changed": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Files or state that changed.",
			},
			"next": map[string]any{
				"type":        "string",
				"description": "The next action, or DONE when the task is complete.",
			},
			"blockers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Anything blocking progress.",
			},
			"citations": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Chunk ids consulted.",
			},
		},
		"required": []string{"next"},
	})
}

func (t *SaveCheckpoint) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	taskID := tools.StringArg(args, "task_id", "")
	if taskID == "" {
		active, err := t.queue.Active()
		if err != nil {
			return tools.FailErr(err, nil), nil
		}
		if active == nil {
			return tools.Fail("NO_ACTIVE_TASK", agent.BlockedByMissing,
				"no task is running and no task_id was given", nil), nil
		}
		taskID = active.TaskID
	}
	if _, err := t.queue.Get(taskID); err != nil {
		return tools.FailErr(err, map[string]any{"task_id": taskID}), nil
	}

	cp := &taskqueue.Checkpoint{
		TaskID:    taskID,
		Done:      tools.StringArg(args, "done", ""),
		Changed:   tools.StringSliceArg(args, "changed"),
		Next:      tools.StringArg(args, "next", ""),
		Blockers:  tools.StringSliceArg(args, "blockers"),
		Citations: tools.StringSliceArg(args, "citations"),
	}
	if err := t.queue.SaveCheckpoint(cp); err != nil {
		return tools.FailErr(err, map[string]any{"task_id": taskID}), nil
	}
	return tools.Ok("Checkpoint saved for " + taskID), nil
}

func schemaJSON(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
