// Package executor runs tasks on a worker.
package executor

import (
	"context"
	"time"

	"yqhp/work-queue/pkg/types"
)

// DefaultOutputLimit caps the captured output of a task, in bytes.
const DefaultOutputLimit = 64 * 1024

// Executor runs one kind of task.
type Executor interface {
	// Kind returns the task kind this executor handles.
	Kind() types.TaskKind

	// Execute runs the task and reports its outcome. Failures are described
	// in the returned Result, never as a Go error.
	Execute(ctx context.Context, task *types.Task) *types.Result
}

// Run executes task with the executor registered for its kind, applying the
// task timeout when set.
func Run(ctx context.Context, reg *Registry, task *types.Task) *types.Result {
	start := time.Now()

	kind := task.Kind
	if kind == "" {
		kind = types.TaskKindShell
	}
	exec, err := reg.GetOrError(kind)
	if err != nil {
		return &types.Result{ExitCode: -1, Error: err.Error(), Duration: time.Since(start)}
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	res := exec.Execute(ctx, task)
	if res == nil {
		res = &types.Result{ExitCode: -1, Error: "executor returned no result"}
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res
}

// truncate keeps the tail of s within limit bytes.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return "...(truncated)\n" + s[len(s)-limit:]
}
