package taskqueue

import (
	"fmt"
	"strings"
	"time"
)

// What's Next marker values. Besides these, "Next: <task_id>" and
// "Spawned: <task_id>[, <task_id>...]" are the contractual forms; the queue
// stores what it is given and enforcement sits at the orchestration layer.
const (
	// NextDone marks the task chain as complete.
	NextDone = "DONE"
)

// Checkpoint is a markdown resume artifact for a task: what was done, what
// changed, what comes next, and what blocked progress.
type Checkpoint struct {
	// TaskID names the task this checkpoint belongs to. Set by the queue
	// on terminal transitions.
	TaskID string

	// Done is prose describing completed work.
	Done string

	// Changed lists artifact identifiers that were created or modified.
	Changed []string

	// Next is the contractual pointer: "Next: <task_id>",
	// "Spawned: <id>, <id>", or an explicit done marker.
	Next string

	// Blockers lists errors or obstacles hit during the task.
	Blockers []string

	// Citations lists chunk ids consulted during the task.
	Citations []string

	// CreatedAt is UTC; zero means "now" at save time.
	CreatedAt time.Time
}

// Markdown renders the checkpoint in the fixed heading schema. Heading order
// is part of the on-disk contract.
func (c *Checkpoint) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Checkpoint: %s\n\n", c.TaskID)
	fmt.Fprintf(&b, "**Created:** %s\n\n", c.CreatedAt.UTC().Format(time.RFC3339))

	b.WriteString("## What Was Done\n\n")
	b.WriteString(strings.TrimSpace(c.Done))
	b.WriteString("\n\n")

	b.WriteString("## What Changed\n\n")
	writeList(&b, c.Changed, "- No changes")

	b.WriteString("## What's Next\n\n")
	b.WriteString(strings.TrimSpace(c.Next))
	b.WriteString("\n\n")

	b.WriteString("## Blockers/Errors\n\n")
	writeList(&b, c.Blockers, "- None")

	b.WriteString("## Citations Used\n\n")
	writeList(&b, c.Citations, "- None")

	return b.String()
}

func writeList(b *strings.Builder, items []string, empty string) {
	if len(items) == 0 {
		b.WriteString(empty)
		b.WriteString("\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
