// Package patchops provides the propose_patch tool: instead of editing
// project sources directly, the model records a reviewable patch
// directory with a plan, a unified diff, and a test note.
package patchops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/patches"
	"github.com/haasonsaas/anvil/internal/tools"
)

// ProposePatch records a patch proposal.
type ProposePatch struct {
	store *patches.Store
}

// NewProposePatch creates the propose_patch tool.
func NewProposePatch(store *patches.Store) *ProposePatch {
	return &ProposePatch{store: store}
}

func (t *ProposePatch) Name() string { return "propose_patch" }

func (t *ProposePatch) Description() string {
	return "Propose a change to project sources as a patch directory with a plan, unified diff, and test notes."
}

func (t *ProposePatch) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short title for the patch.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What the change does and why.",
			},
			"plan": map[string]any{
				"type":        "string",
				"description": "Step-by-step plan (markdown).",
			},
			"diff": map[string]any{
				"type":        "string",
				"description": "Unified diff of the change.",
			},
			"tests": map[string]any{
				"type":        "string",
				"description": "How the change is or should be tested (markdown).",
			},
			"target_files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Project files the diff touches.",
			},
		},
		"required": []string{"title", "diff"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ProposePatch) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	p, err := t.store.Create(patches.Proposal{
		Title:       tools.StringArg(args, "title", ""),
		Description: tools.StringArg(args, "description", ""),
		Plan:        tools.StringArg(args, "plan", ""),
		Diff:        tools.StringArg(args, "diff", ""),
		Tests:       tools.StringArg(args, "tests", ""),
		TargetFiles: tools.StringSliceArg(args, "target_files"),
	})
	if err != nil {
		return tools.FailErr(err, map[string]any{"title": tools.StringArg(args, "title", "")}), nil
	}
	return tools.Ok(fmt.Sprintf("Patch %s recorded with status %s", p.PatchID, p.Status)), nil
}
