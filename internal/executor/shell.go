package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"yqhp/work-queue/pkg/types"
)

// ShellExecutor runs Command through /bin/sh -c.
type ShellExecutor struct {
	shell       string
	shellArgs   []string
	outputLimit int
}

// NewShellExecutor creates a shell executor keeping at most outputLimit bytes of output.
func NewShellExecutor(outputLimit int) *ShellExecutor {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &ShellExecutor{
		shell:       "/bin/sh",
		shellArgs:   []string{"-c"},
		outputLimit: outputLimit,
	}
}

func (e *ShellExecutor) Kind() types.TaskKind {
	return types.TaskKindShell
}

// Execute runs the command through the shell with the payload on stdin. A
// non-zero exit is reported through the result, not as an error.
func (e *ShellExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	start := time.Now()

	args := append(append([]string(nil), e.shellArgs...), task.Command)
	cmd := exec.CommandContext(ctx, e.shell, args...)
	// children that outlive the shell keep the output pipe open
	cmd.WaitDelay = time.Second

	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "WQ_TASK_ID="+strconv.FormatUint(task.ID, 10))
	if task.Tag != "" {
		cmd.Env = append(cmd.Env, "WQ_TASK_TAG="+task.Tag)
	}
	for k, v := range task.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if task.Payload != "" {
		cmd.Stdin = bytes.NewBufferString(task.Payload)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	res := &types.Result{
		Output:   truncate(output.String(), e.outputLimit),
		Duration: time.Since(start),
	}

	if err == nil {
		return res
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Error = fmt.Sprintf("timeout after %s", task.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		res.ExitCode = -1
		res.Error = "cancelled"
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Error = err.Error()
		}
	}
	return res
}
