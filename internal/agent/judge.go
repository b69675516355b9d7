package agent

import (
	"fmt"
	"strings"
)

// Judgment is the judge's advisory verdict after a tool batch. It never
// blocks execution; the loop injects Reason and Suggestion as a system
// message when Passed is false.
type Judgment struct {
	Passed     bool
	Reason     string
	Suggestion string
	Severity   string
}

// Severity levels for judgments.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// judgeWindow is how many trailing steps the judge inspects.
const judgeWindow = 12

// Judge is a pure post-batch inspection of the step list. It looks for
// repeated identical calls, repeated failures, empty outputs, and
// workflow discipline problems.
type Judge struct{}

// NewJudge creates a judge.
func NewJudge() *Judge { return &Judge{} }

// Inspect examines the trailing steps and returns advisory judgments, at
// most one per trigger kind.
func (j *Judge) Inspect(steps []Step) []Judgment {
	if len(steps) > judgeWindow {
		steps = steps[len(steps)-judgeWindow:]
	}

	var out []Judgment
	if jd := j.repeatedCalls(steps); jd != nil {
		out = append(out, *jd)
	}
	if jd := j.repeatedFailures(steps); jd != nil {
		out = append(out, *jd)
	}
	if jd := j.emptyOutputs(steps); jd != nil {
		out = append(out, *jd)
	}
	if jd := j.testsDiscipline(steps); jd != nil {
		out = append(out, *jd)
	}
	if jd := j.patchDiscipline(steps); jd != nil {
		out = append(out, *jd)
	}
	return out
}

// repeatedCalls flags three or more identical (name, path) calls in the
// window, a sign the model is looping.
func (j *Judge) repeatedCalls(steps []Step) *Judgment {
	counts := map[string]int{}
	for _, s := range steps {
		if s.Kind != StepCallTool || s.ToolCall == nil {
			continue
		}
		key := s.ToolCall.Name + "\x00" + callPath(s.ToolCall)
		counts[key]++
		if counts[key] >= 3 {
			return &Judgment{
				Reason:     fmt.Sprintf("tool %s was called %d times with the same target", s.ToolCall.Name, counts[key]),
				Suggestion: "the repeated call is not making progress; try a different tool or summarize what you know",
				Severity:   SeverityWarning,
			}
		}
	}
	return nil
}

// repeatedFailures flags three or more failed results in the window.
func (j *Judge) repeatedFailures(steps []Step) *Judgment {
	failures := 0
	for _, s := range steps {
		if s.Kind == StepObserve && s.Result != nil && !s.Result.Success {
			failures++
		}
	}
	if failures >= 3 {
		return &Judgment{
			Reason:     fmt.Sprintf("%d tool calls failed recently", failures),
			Suggestion: "stop and state what is blocking you before trying more tools",
			Severity:   SeverityWarning,
		}
	}
	return nil
}

// emptyOutputs flags successful results with no content.
func (j *Judge) emptyOutputs(steps []Step) *Judgment {
	empty := 0
	for _, s := range steps {
		if s.Kind == StepObserve && s.Result != nil && s.Result.Success &&
			strings.TrimSpace(s.Result.Output) == "" {
			empty++
		}
	}
	if empty >= 2 {
		return &Judgment{
			Reason:     "several tool calls returned empty output",
			Suggestion: "the target may not contain what you expect; verify it exists before reading further",
			Severity:   SeverityInfo,
		}
	}
	return nil
}

// testsDiscipline flags code writes with no test activity in the window.
func (j *Judge) testsDiscipline(steps []Step) *Judgment {
	wroteCode := false
	ranTests := false
	for _, s := range steps {
		if s.Kind != StepCallTool || s.ToolCall == nil {
			continue
		}
		switch s.ToolCall.Name {
		case "write_file":
			if isCodePath(callPath(s.ToolCall)) {
				wroteCode = true
			}
			if isTestPath(callPath(s.ToolCall)) {
				ranTests = true
			}
		case "run_command":
			if cmd, ok := s.ToolCall.Arguments["command"].(string); ok && looksLikeTest(cmd) {
				ranTests = true
			}
		}
	}
	if wroteCode && !ranTests {
		return &Judgment{
			Reason:     "code was written without running or adding tests",
			Suggestion: "add or run tests covering the change before moving on",
			Severity:   SeverityInfo,
		}
	}
	return nil
}

// patchDiscipline flags direct writes into repos/ without the patch tool.
func (j *Judge) patchDiscipline(steps []Step) *Judgment {
	proposedPatch := false
	directWrite := ""
	for _, s := range steps {
		if s.Kind != StepCallTool || s.ToolCall == nil {
			continue
		}
		switch s.ToolCall.Name {
		case "propose_patch":
			proposedPatch = true
		case "write_file":
			p := callPath(s.ToolCall)
			if strings.HasPrefix(strings.TrimPrefix(p, "workspace/"), "repos/") {
				directWrite = p
			}
		}
	}
	if directWrite != "" && !proposedPatch {
		return &Judgment{
			Reason:     fmt.Sprintf("project file %s was modified directly", directWrite),
			Suggestion: "use propose_patch for changes to cloned project sources so they stay reviewable",
			Severity:   SeverityWarning,
		}
	}
	return nil
}

func callPath(c *ToolCall) string {
	for _, key := range []string{"path", "file_path", "file", "dir", "directory", "target"} {
		if p, ok := c.Arguments[key].(string); ok && p != "" {
			return p
		}
	}
	return ""
}

func isCodePath(p string) bool {
	for _, ext := range []string{".go", ".py", ".js", ".ts", ".rs", ".java", ".rb", ".c", ".cpp", ".h"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func isTestPath(p string) bool {
	base := p[strings.LastIndex(p, "/")+1:]
	return strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_")
}

func looksLikeTest(cmd string) bool {
	for _, marker := range []string{"go test", "pytest", "npm test", "cargo test", "unittest"} {
		if strings.Contains(cmd, marker) {
			return true
		}
	}
	return false
}
