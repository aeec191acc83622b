package master

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/dispatch"
	"yqhp/work-queue/internal/executor"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/types"
)

type sleepExecutor struct {
	d     time.Duration
	calls atomic.Int64
}

func (e *sleepExecutor) Kind() types.TaskKind { return types.TaskKindShell }

func (e *sleepExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	e.calls.Add(1)
	select {
	case <-time.After(e.d):
		return &types.Result{Output: task.Command}
	case <-ctx.Done():
		return &types.Result{Error: ctx.Err().Error()}
	}
}

// Every submitted task finishes even while workers join and leave.
func TestAllTasksFinishUnderWorkerChurn(t *testing.T) {
	exec := &sleepExecutor{d: 5 * time.Millisecond}
	reg := executor.NewRegistry()
	reg.MustRegister(exec)

	local, err := dispatch.NewLocal(&dispatch.LocalConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		Executors:         reg,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, err)
	defer local.Close()

	st := store.New(store.Options{RetryLimit: 1, Logger: zap.NewNop()})
	m := New(&Config{
		HeartbeatTimeout: time.Second,
		PollInterval:     10 * time.Millisecond,
		ExitWhenDrained:  true,
		Logger:           zap.NewNop(),
	}, st, local, nil)

	const total = 60
	for i := 0; i < total; i++ {
		_, err := m.Submit(&types.Task{
			Command:   fmt.Sprintf("task-%d", i),
			Resources: types.Resources{Cores: 1 + i%2, MemoryMB: 64},
		})
		require.NoError(t, err)
	}

	require.NoError(t, local.AddWorker(types.WorkerInfo{ID: "steady", Capacity: types.Resources{Cores: 2, MemoryMB: 512}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			id := fmt.Sprintf("churn-%d", i)
			if err := local.AddWorker(types.WorkerInfo{ID: id, Capacity: types.Resources{Cores: 3, MemoryMB: 512}}); err != nil {
				return
			}
			time.Sleep(15 * time.Millisecond)
			_ = local.RemoveWorker(id)
		}
	}()

	summary, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, summary.Done)

	for _, task := range m.List(nil) {
		assert.Equal(t, types.TaskStateDone, task.State, "task %d", task.ID)
	}
	assert.GreaterOrEqual(t, exec.calls.Load(), int64(total))
}
