package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/anvil/internal/taskqueue"
)

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	t.Setenv("ANVIL_CONFIG", "/etc/anvil.yaml")
	if got := resolveConfigPath(""); got != "/etc/anvil.yaml" {
		t.Errorf("env should win over default, got %q", got)
	}
	t.Setenv("ANVIL_CONFIG", "")
	if got := resolveConfigPath(""); got != "anvil.yaml" {
		t.Errorf("default, got %q", got)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Loop.MaxSteps != 16 {
		t.Errorf("MaxSteps = %d, want default 16", cfg.Loop.MaxSteps)
	}
}

func TestTaskPromptIncludesTaskFields(t *testing.T) {
	prompt := taskPrompt(&taskqueue.Task{
		TaskID:     "task_0001",
		Objective:  "summarize the ingest pipeline",
		Inputs:     []string{"repos/demo", "ch_abc123"},
		Acceptance: "a checkpoint exists",
	})
	for _, want := range []string{"summarize the ingest pipeline", "repos/demo", "a checkpoint exists"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 20)
	if got := truncate(long, 10); len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("got %q", got)
	}
}
