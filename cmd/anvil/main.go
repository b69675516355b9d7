// Package main provides the anvil CLI: a workspace-scoped agent execution
// engine with a durable task queue and a local retrieval index.
//
// # Basic Usage
//
// Run one conversation turn:
//
//	anvil run -m "summarize repos/demo"
//
// Work exactly one queued task and exit:
//
//	anvil worker
//
// Build and query the retrieval index:
//
//	anvil ingest repos/demo
//	anvil search "http handler" --semantic
//
// # Environment Variables
//
//   - ANVIL_CONFIG: path to the configuration file (default: anvil.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anvil",
		Short:         "Workspace-scoped agent execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newWorkerCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newTasksCmd(),
		newVersionCmd(),
	)
	return root
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("ANVIL_CONFIG"); env != "" {
		return env
	}
	return "anvil.yaml"
}
