package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/chunks"
	"github.com/haasonsaas/anvil/internal/index"
	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/taskqueue"
)

func newRunCmd() *cobra.Command {
	var (
		cfgPath string
		message string
		session string
		model   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one conversation turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("a message is required (-m)")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			conversationID := session
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			conv := a.newConversation(conversationID)
			if a.sessions != nil && session != "" {
				history, err := a.sessions.History(ctx, session)
				if err != nil {
					return fmt.Errorf("load session %s: %w", session, err)
				}
				conv.Messages = history
			}

			runID := uuid.NewString()
			tracer, err := agent.OpenTracer(a.inWorkspace("runs"), runID)
			if err != nil {
				return fmt.Errorf("open trace: %w", err)
			}
			defer tracer.Close()

			ctx = observability.WithRunID(ctx, runID)
			result := a.newLoop(tracer, model).Run(ctx, conv, message)
			fmt.Fprintln(cmd.OutOrStdout(), result.FinalText)
			if !result.Success {
				return fmt.Errorf("turn failed: %w", result.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message for this turn")
	cmd.Flags().StringVarP(&session, "session", "s", "", "conversation id to resume (requires sessions enabled)")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and run exactly one queued task, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			task, err := a.queue.Next()
			if err != nil {
				return err
			}
			if task == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no queued tasks")
				return nil
			}

			runID := uuid.NewString()
			tracer, err := agent.OpenTracer(a.inWorkspace("runs"), runID)
			if err != nil {
				return fmt.Errorf("open trace: %w", err)
			}
			defer tracer.Close()

			conv := a.newConversation(task.TaskID)
			ctx = observability.WithRunID(ctx, runID)
			result := a.newLoop(tracer, "").RunTask(ctx, conv, task, taskPrompt(task))
			fmt.Fprintln(cmd.OutOrStdout(), result.FinalText)
			if !result.Success {
				// Budget exhaustion already moved the task to failed with
				// a checkpoint; other failures are recorded here.
				if fresh, gerr := a.queue.Get(task.TaskID); gerr == nil && !fresh.Status.Terminal() {
					errMsg := "turn failed"
					if result.Err != nil {
						errMsg = result.Err.Error()
					}
					if merr := a.queue.MarkFailed(task.TaskID, errMsg, &taskqueue.Checkpoint{
						Done:     "Task aborted before completion: " + errMsg,
						Next:     "Next: " + task.TaskID,
						Blockers: []string{errMsg},
					}); merr != nil {
						return merr
					}
				}
				return fmt.Errorf("task %s failed: %w", task.TaskID, result.Err)
			}
			return a.queue.MarkDone(task.TaskID, &taskqueue.Checkpoint{
				Done: result.FinalText,
				Next: taskqueue.NextDone,
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		cfgPath string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Index a file or directory tree for retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			ingestCtx, span := a.tracer.TraceIngest(ctx, args[0])
			files, added, err := a.idx.IngestPath(ingestCtx, args[0])
			a.tracer.RecordError(span, err)
			span.End()
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			if err := a.idx.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files, %d new chunks\n", files, added)

			if watch || a.cfg.Index.Watch {
				watcher, err := index.NewWatcher(a.idx, a.logger)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "watching for changes (ctrl-c to stop)")
				if err := watcher.Watch(ctx, args[0]); err != nil && ctx.Err() == nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and re-ingest files as they change")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		cfgPath  string
		semantic bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the retrieval index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if semantic {
				searchCtx, span := a.tracer.TraceSearch(ctx, "semantic")
				results, err := a.idx.SearchSemantic(searchCtx, query, limit)
				a.tracer.RecordError(span, err)
				span.End()
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "no matches")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(out, "%d. %s:%d-%d [%s %s] score=%.3f\n",
						i+1, r.Source, r.StartLine, r.EndLine, r.Kind, r.Name, r.Score)
				}
				return nil
			}

			_, span := a.tracer.TraceSearch(ctx, "keyword")
			results := a.idx.SearchKeyword(query, limit, chunks.SearchOptions{Deterministic: true})
			span.End()
			if len(results) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s:%d-%d [%s %s]\n",
					i+1, r.Source, r.StartLine, r.EndLine, r.Kind, r.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "use embedding similarity instead of keyword scoring")
	cmd.Flags().IntVarP(&limit, "limit", "k", 8, "maximum results")
	return cmd
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and extend the task queue",
	}
	cmd.AddCommand(newTasksAddCmd(), newTasksListCmd())
	return cmd
}

func newTasksAddCmd() *cobra.Command {
	var (
		cfgPath      string
		inputs       []string
		acceptance   string
		parent       string
		maxToolCalls int
		maxSteps     int
	)
	cmd := &cobra.Command{
		Use:   "add <objective>",
		Short: "Queue a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			taskID, err := a.queue.Add(strings.Join(args, " "), taskqueue.AddOptions{
				Inputs:     inputs,
				Acceptance: acceptance,
				ParentID:   parent,
				Budget: taskqueue.Budget{
					MaxToolCalls: maxToolCalls,
					MaxSteps:     maxSteps,
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taskID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "starting reference (repeatable)")
	cmd.Flags().StringVar(&acceptance, "acceptance", "", "completion criteria")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().IntVar(&maxToolCalls, "max-tool-calls", 0, "tool call budget (0 = unlimited)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (0 = unlimited)")
	return cmd
}

func newTasksListCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, resolveConfigPath(cfgPath), false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			tasks := a.queue.List()
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tOBJECTIVE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.TaskID, t.Status, truncate(t.Objective, 72))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anvil %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// taskPrompt renders a queued task as the opening user message for its run.
func taskPrompt(task *taskqueue.Task) string {
	var b strings.Builder
	b.WriteString("Work on the following task.\n\n")
	fmt.Fprintf(&b, "Objective: %s\n", task.Objective)
	if len(task.Inputs) > 0 {
		fmt.Fprintf(&b, "Inputs: %s\n", strings.Join(task.Inputs, ", "))
	}
	if task.Acceptance != "" {
		fmt.Fprintf(&b, "Acceptance: %s\n", task.Acceptance)
	}
	b.WriteString("\nSave a checkpoint before finishing.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
