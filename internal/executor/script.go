package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"yqhp/work-queue/pkg/types"
)

// ScriptExecutor evaluates JavaScript tasks with goja. The script is the
// task Payload, or Command when Payload is empty.
type ScriptExecutor struct {
	outputLimit int
}

// NewScriptExecutor creates a script executor keeping at most outputLimit bytes of output.
func NewScriptExecutor(outputLimit int) *ScriptExecutor {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &ScriptExecutor{outputLimit: outputLimit}
}

func (e *ScriptExecutor) Kind() types.TaskKind {
	return types.TaskKindScript
}

// Execute runs the script in a fresh runtime.
func (e *ScriptExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	start := time.Now()

	script := task.Payload
	if script == "" {
		script = task.Command
	}

	vm := goja.New()
	logs := make([]string, 0)
	exitCode := 0

	if err := setupEnvironment(vm, task, &logs, &exitCode); err != nil {
		return &types.Result{ExitCode: -1, Error: fmt.Sprintf("setup JS environment: %v", err), Duration: time.Since(start)}
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunString(script)

	res := &types.Result{ExitCode: exitCode}
	if err == nil && value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		logs = append(logs, fmt.Sprintf("%v", value.Export()))
	}
	res.Output = truncate(strings.Join(logs, "\n"), e.outputLimit)
	res.Duration = time.Since(start)

	if err != nil {
		res.ExitCode = -1
		if ctx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("timeout after %s", task.Timeout)
		} else {
			res.Error = fmt.Sprintf("JS script error: %v", err)
		}
	}
	return res
}

// setupEnvironment exposes console, env, task and exit() to the script.
func setupEnvironment(vm *goja.Runtime, task *types.Task, logs *[]string, exitCode *int) error {
	console := vm.NewObject()
	logFn := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = fmt.Sprintf("%v", arg.Export())
			}
			*logs = append(*logs, fmt.Sprintf("[%s] %s", level, strings.Join(args, " ")))
			return goja.Undefined()
		}
	}
	for name, level := range map[string]string{"log": "LOG", "info": "INFO", "warn": "WARN", "error": "ERROR", "debug": "DEBUG"} {
		if err := console.Set(name, logFn(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	env := make(map[string]any, len(task.Env))
	for k, v := range task.Env {
		env[k] = v
	}
	if err := vm.Set("env", env); err != nil {
		return err
	}

	if err := vm.Set("task", map[string]any{
		"id":       task.ID,
		"tag":      task.Tag,
		"command":  task.Command,
		"features": task.Features,
	}); err != nil {
		return err
	}

	return vm.Set("exit", func(code int) {
		*exitCode = code
	})
}
