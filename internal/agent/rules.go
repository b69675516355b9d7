package agent

import (
	"fmt"
	"strings"
)

// Rule is a pure safety check over a proposal's name and arguments. Rules
// run before the handler; returning a non-nil *RuleBlocked aborts the
// call.
type Rule interface {
	// Name identifies the rule in denial messages.
	Name() string

	// Evaluate returns a denial, or nil to allow.
	Evaluate(call ToolCall) *RuleBlocked
}

// DefaultRules returns the built-in safety rules: forbidden command
// substrings and forbidden path patterns.
func DefaultRules() []Rule {
	return []Rule{
		&commandSubstringRule{},
		&forbiddenPathRule{},
	}
}

// forbiddenCommands are substrings no shell command may contain.
var forbiddenCommands = []string{
	"rm -rf /",
	"> /dev/",
	"mkfs",
	":(){ :|:& };:",
}

type commandSubstringRule struct{}

func (r *commandSubstringRule) Name() string { return "forbidden_command" }

func (r *commandSubstringRule) Evaluate(call ToolCall) *RuleBlocked {
	cmd, ok := call.Arguments["command"].(string)
	if !ok || cmd == "" {
		return nil
	}
	for _, bad := range forbiddenCommands {
		if strings.Contains(cmd, bad) {
			return &RuleBlocked{
				Rule:   r.Name(),
				Reason: fmt.Sprintf("command contains forbidden sequence %q", bad),
			}
		}
	}
	return nil
}

// forbiddenPathFragments match secret material regardless of the tool
// asking for it.
var forbiddenPathFragments = []string{
	".env",
	"id_rsa",
	"id_ed25519",
	".pem",
	".ssh/",
}

type forbiddenPathRule struct{}

func (r *forbiddenPathRule) Name() string { return "forbidden_path" }

func (r *forbiddenPathRule) Evaluate(call ToolCall) *RuleBlocked {
	for _, key := range []string{"path", "file_path", "file", "target"} {
		p, ok := call.Arguments[key].(string)
		if !ok || p == "" {
			continue
		}
		lower := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
		for _, frag := range forbiddenPathFragments {
			if strings.Contains(lower, frag) {
				return &RuleBlocked{
					Rule:   r.Name(),
					Reason: fmt.Sprintf("path %q matches protected pattern %q", p, frag),
				}
			}
		}
	}
	return nil
}
