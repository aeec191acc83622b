package types

import (
	"strconv"
	"time"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// TaskStateWaiting indicates the task is queued and schedulable.
	TaskStateWaiting TaskState = "waiting"
	// TaskStateRunning indicates the task is assigned to a worker.
	TaskStateRunning TaskState = "running"
	// TaskStateRetrying indicates the task failed and is waiting to be retried.
	TaskStateRetrying TaskState = "retrying"
	// TaskStateDone indicates the task completed successfully.
	TaskStateDone TaskState = "done"
	// TaskStateFailed indicates the task exhausted its retries.
	TaskStateFailed TaskState = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateDone || s == TaskStateFailed
}

// IsValid reports whether s is a known task state.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateWaiting, TaskStateRunning, TaskStateRetrying, TaskStateDone, TaskStateFailed:
		return true
	}
	return false
}

// TaskKind selects the executor a worker uses for a task.
type TaskKind string

const (
	// TaskKindShell runs Command through /bin/sh.
	TaskKindShell TaskKind = "shell"
	// TaskKindScript evaluates Payload as JavaScript.
	TaskKindScript TaskKind = "js"
)

// Task is a unit of work submitted for execution by a worker.
type Task struct {
	ID        uint64            `json:"id" yaml:"-"`
	Command   string            `json:"command" yaml:"command"`
	Payload   string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Kind      TaskKind          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Tag       string            `json:"tag,omitempty" yaml:"tag,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Resources Resources         `json:"resources" yaml:"resources"`
	Features  []string          `json:"features,omitempty" yaml:"features,omitempty"`

	// MaxRetries overrides the store's retry limit when set.
	MaxRetries *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	State     TaskState `json:"state" yaml:"-"`
	WorkerID  string    `json:"worker_id,omitempty" yaml:"-"`
	Result    *Result   `json:"result,omitempty" yaml:"-"`
	Failures  int       `json:"failures" yaml:"-"`
	LastError string    `json:"last_error,omitempty" yaml:"-"`
	Checksum  string    `json:"checksum,omitempty" yaml:"-"`

	SubmittedAt time.Time `json:"submitted_at" yaml:"-"`
	StartedAt   time.Time `json:"started_at,omitempty" yaml:"-"`
	FinishedAt  time.Time `json:"finished_at,omitempty" yaml:"-"`
	RetryAt     time.Time `json:"retry_at,omitempty" yaml:"-"`
}

// Result is the outcome of one task execution reported by a worker.
type Result struct {
	WorkerID string        `json:"worker_id"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the execution counts as a completed task.
func (r *Result) Success() bool {
	return r != nil && r.Error == "" && r.ExitCode == 0
}

// Reason describes a failed result.
func (r *Result) Reason() string {
	switch {
	case r == nil:
		return "no result"
	case r.Error != "":
		return r.Error
	case r.ExitCode != 0:
		return "exit code " + strconv.Itoa(r.ExitCode)
	}
	return ""
}

// Assignment binds a running task to the worker executing it.
type Assignment struct {
	TaskID    uint64    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	Resources Resources `json:"resources"`
	StartedAt time.Time `json:"started_at"`
}

// TaskFilter selects tasks when listing.
type TaskFilter struct {
	States []TaskState
	Tag    string
}

// Matches reports whether the task passes the filter.
func (f *TaskFilter) Matches(t *Task) bool {
	if f == nil {
		return true
	}
	if f.Tag != "" && f.Tag != t.Tag {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if t.State == s {
			return true
		}
	}
	return false
}
