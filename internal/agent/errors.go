package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Blocked-by taxonomy tags, categorizing failures by who can fix them.
const (
	BlockedByRules      = "rules"
	BlockedByWorkspace  = "workspace"
	BlockedByMissing    = "missing"
	BlockedByRuntime    = "runtime"
	BlockedByPermission = "permission"
)

// Error codes carried in tool-result envelopes.
const (
	CodeRuleBlocked      = "RULE_BLOCKED"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeTimedOut         = "TIMED_OUT"
	CodeCancelled        = "CANCELLED"
	CodeHandlerPanic     = "HANDLER_PANIC"
	CodeHandlerError     = "HANDLER_ERROR"
	CodeBudgetExhausted  = "BUDGET_EXHAUSTED"
)

// RuleBlocked is returned when a safety rule denies a proposal.
type RuleBlocked struct {
	// Rule is the name of the denying rule.
	Rule string

	// Reason is a short explanation for the model.
	Reason string
}

func (e *RuleBlocked) Error() string {
	return fmt.Sprintf("blocked by rule %s: %s", e.Rule, e.Reason)
}

// Envelope renders the error format surfaced to the model in tool
// messages:
//
//	ERROR [<CODE>]
//	Blocked by: <taxonomy>
//	Message: <human text>
//	Context: {…}
//
// The context line is omitted when ctx is empty.
func Envelope(code, blockedBy, message string, ctx map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERROR [%s]\n", code)
	fmt.Fprintf(&b, "Blocked by: %s\n", blockedBy)
	fmt.Fprintf(&b, "Message: %s", message)
	if len(ctx) > 0 {
		b.WriteString("\nContext: ")
		b.WriteString(marshalContext(ctx))
	}
	return b.String()
}

// marshalContext renders context deterministically: json.Marshal of a map
// sorts keys, and unmarshalable values degrade to their Go formatting.
func marshalContext(ctx map[string]any) string {
	data, err := json.Marshal(ctx)
	if err == nil {
		return string(data)
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: %q", k, fmt.Sprint(ctx[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
