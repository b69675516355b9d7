package taskqueue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/anvil/internal/observability"
)

// On-disk artifact names under the queue directory.
const (
	TasksFile      = "tasks.jsonl"
	ActiveFile     = "active_task.json"
	CheckpointsDir = "checkpoints"
)

// Queue is the durable task queue rooted at one directory. Readers may load
// concurrently; a mutex serializes writers around the wholesale rewrite of
// tasks.jsonl. The queue is designed for a single worker per conversation,
// so contention is not expected.
type Queue struct {
	mu            sync.Mutex
	dir           string
	checkpointDir string
	logger        *observability.Logger

	tasks []*Task
}

// Open loads the queue from dir, creating the directory tree when absent.
// Checkpoint markdown lands under dir/checkpoints.
func Open(dir string, logger *observability.Logger) (*Queue, error) {
	return OpenWithCheckpointDir(dir, "", logger)
}

// OpenWithCheckpointDir is Open with checkpoint markdown redirected to
// checkpointDir. An empty checkpointDir keeps the default dir/checkpoints.
func OpenWithCheckpointDir(dir, checkpointDir string, logger *observability.Logger) (*Queue, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if checkpointDir == "" {
		checkpointDir = filepath.Join(dir, CheckpointsDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return nil, err
	}
	q := &Queue{dir: dir, checkpointDir: checkpointDir, logger: logger}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Dir returns the queue directory.
func (q *Queue) Dir() string {
	return q.dir
}

// Add appends a queued task and returns its id. Ids are sequential by
// position in the log.
func (q *Queue) Add(objective string, opts AddOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	t := &Task{
		TaskID:     taskID(len(q.tasks) + 1),
		ParentID:   opts.ParentID,
		Objective:  objective,
		Inputs:     opts.Inputs,
		Acceptance: opts.Acceptance,
		Budget:     opts.Budget,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   opts.Metadata,
	}
	if t.Inputs == nil {
		t.Inputs = []string{}
	}
	q.tasks = append(q.tasks, t)
	if err := q.rewriteLocked(); err != nil {
		q.tasks = q.tasks[:len(q.tasks)-1]
		return "", err
	}
	return t.TaskID, nil
}

// Next pops the first queued task in insertion order, flips it to running,
// and writes the active-task pointer. Returns nil when the queue is empty.
func (q *Queue) Next() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tasks {
		if t.Status != StatusQueued {
			continue
		}
		t.Status = StatusRunning
		t.UpdatedAt = time.Now().UTC()
		if err := q.rewriteLocked(); err != nil {
			t.Status = StatusQueued
			return nil, err
		}
		if err := q.writeActiveLocked(&ActivePointer{TaskID: t.TaskID, StartedAt: t.UpdatedAt}); err != nil {
			return nil, err
		}
		return t.Clone(), nil
	}
	return nil, nil
}

// MarkDone transitions a running task to done, writes the checkpoint when
// supplied, and clears the active-task pointer if it references this task.
func (q *Queue) MarkDone(taskID string, cp *Checkpoint) error {
	return q.finish(taskID, StatusDone, "", cp)
}

// MarkFailed transitions a running task to failed, storing the error in
// metadata.
func (q *Queue) MarkFailed(taskID, errMsg string, cp *Checkpoint) error {
	return q.finish(taskID, StatusFailed, errMsg, cp)
}

func (q *Queue) finish(taskID string, to Status, errMsg string, cp *Checkpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.findLocked(taskID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, taskID, t.Status)
	}

	prevStatus, prevUpdated := t.Status, t.UpdatedAt
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	if errMsg != "" {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, 1)
		}
		t.Metadata["error"] = errMsg
	}
	if err := q.rewriteLocked(); err != nil {
		t.Status, t.UpdatedAt = prevStatus, prevUpdated
		return err
	}

	if cp != nil {
		cp.TaskID = taskID
		if err := q.saveCheckpointLocked(cp); err != nil {
			return err
		}
	}
	return q.clearActiveLocked(taskID)
}

// SaveCheckpoint writes a checkpoint file without a state transition, for
// mid-task progress records.
func (q *Queue) SaveCheckpoint(cp *Checkpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveCheckpointLocked(cp)
}

// Get returns a copy of the task with the given id.
func (q *Queue) Get(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t := q.findLocked(taskID); t != nil {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// List returns copies of all tasks in insertion order.
func (q *Queue) List() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Active returns the active-task pointer, or nil when the worker is idle.
// A missing pointer file is not an error; the running state in tasks.jsonl
// is the source of truth.
func (q *Queue) Active() (*ActivePointer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(q.dir, ActiveFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var p ActivePointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ActiveFile, err)
	}
	return &p, nil
}

// CheckpointPath returns the markdown checkpoint path for a task.
func (q *Queue) CheckpointPath(taskID string) string {
	return filepath.Join(q.checkpointDir, taskID+".md")
}

func (q *Queue) findLocked(taskID string) *Task {
	for _, t := range q.tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

// rewriteLocked rewrites tasks.jsonl wholesale so subsequent reads observe
// the latest state of every task. Caller holds the lock.
func (q *Queue) rewriteLocked() error {
	var buf bytes.Buffer
	for _, t := range q.tasks {
		line, err := marshalTask(t)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(filepath.Join(q.dir, TasksFile), buf.Bytes())
}

func (q *Queue) writeActiveLocked(p *ActivePointer) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(q.dir, ActiveFile), data)
}

// clearActiveLocked removes the pointer only when it references taskID.
func (q *Queue) clearActiveLocked(taskID string) error {
	path := filepath.Join(q.dir, ActiveFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var p ActivePointer
	if err := json.Unmarshal(data, &p); err == nil && p.TaskID != taskID {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// saveCheckpointLocked writes the markdown directly. Individual checkpoint
// loss is tolerable; the task's terminal state in tasks.jsonl is durable.
func (q *Queue) saveCheckpointLocked(cp *Checkpoint) error {
	if cp.TaskID == "" {
		return fmt.Errorf("checkpoint has no task id")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return os.WriteFile(q.CheckpointPath(cp.TaskID), []byte(cp.Markdown()), 0o644)
}

func (q *Queue) load() error {
	f, err := os.Open(filepath.Join(q.dir, TasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var t Task
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("parse %s line %d: %w", TasksFile, lineNo, err)
		}
		q.tasks = append(q.tasks, &t)
	}
	return scanner.Err()
}

// writeFileAtomic writes via a temp sibling, fsyncs, and renames into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
