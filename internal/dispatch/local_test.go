package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/executor"
	"yqhp/work-queue/pkg/types"
)

// blockingExecutor finishes a task when release is closed or its context ends.
type blockingExecutor struct {
	release chan struct{}
}

func (e *blockingExecutor) Kind() types.TaskKind { return types.TaskKindShell }

func (e *blockingExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	select {
	case <-e.release:
		return &types.Result{Output: task.Command}
	case <-ctx.Done():
		return &types.Result{Error: "stopped"}
	}
}

func newTestLocal(t *testing.T, exec executor.Executor, clock clockwork.Clock, heartbeat time.Duration) *Local {
	t.Helper()
	reg := executor.NewRegistry()
	reg.MustRegister(exec)
	l, err := NewLocal(&LocalConfig{
		HeartbeatInterval: heartbeat,
		Executors:         reg,
		Clock:             clock,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func collect(l *Local) []*types.Event {
	var out []*types.Event
	for ev := range l.Poll() {
		out = append(out, ev)
	}
	return out
}

// waitEvents collects events until at least n arrived.
func waitEvents(t *testing.T, l *Local, n int) []*types.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var out []*types.Event
	for len(out) < n {
		select {
		case <-l.Ready():
			out = append(out, collect(l)...)
		case <-time.After(10 * time.Millisecond):
			out = append(out, collect(l)...)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestLocalRegisterAndResult(t *testing.T) {
	exec := &blockingExecutor{release: make(chan struct{})}
	l := newTestLocal(t, exec, clockwork.NewRealClock(), 0)

	require.NoError(t, l.AddWorker(types.WorkerInfo{ID: "w1", Capacity: types.Resources{Cores: 2}}))
	assert.Error(t, l.AddWorker(types.WorkerInfo{ID: "w1"}))

	events := collect(l)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventWorkerRegistered, events[0].Type)
	assert.Equal(t, 2, events[0].Worker.Capacity.Cores)

	require.NoError(t, l.Send(context.Background(), "w1", &types.Task{ID: 5, Command: "payload"}))
	close(exec.release)

	events = waitEvents(t, l, 1)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTaskResult, events[0].Type)
	assert.Equal(t, uint64(5), events[0].TaskID)
	assert.Equal(t, "w1", events[0].Result.WorkerID)
	assert.Equal(t, "payload", events[0].Result.Output)
}

func TestLocalSendToUnknownWorker(t *testing.T) {
	l := newTestLocal(t, &blockingExecutor{release: make(chan struct{})}, nil, 0)
	err := l.Send(context.Background(), "nobody", &types.Task{ID: 1})
	assert.ErrorIs(t, err, types.ErrUnreachable)
}

func TestLocalRemoveWorkerDropsResults(t *testing.T) {
	exec := &blockingExecutor{release: make(chan struct{})}
	l := newTestLocal(t, exec, nil, 0)

	require.NoError(t, l.AddWorker(types.WorkerInfo{ID: "w1", Capacity: types.Resources{Cores: 1}}))
	require.NoError(t, l.Send(context.Background(), "w1", &types.Task{ID: 1}))
	collect(l)

	require.NoError(t, l.RemoveWorker("w1"))
	events := collect(l)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventWorkerDisconnected, events[0].Type)

	err := l.Send(context.Background(), "w1", &types.Task{ID: 2})
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.ErrorIs(t, l.RemoveWorker("w1"), types.ErrUnknownWorker)

	require.NoError(t, l.Close())
	assert.Empty(t, collect(l), "a stopped worker reports nothing")
}

func TestLocalHeartbeats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLocal(t, &blockingExecutor{release: make(chan struct{})}, clock, time.Second)

	require.NoError(t, l.AddWorker(types.WorkerInfo{ID: "w1", Capacity: types.Resources{Cores: 1}}))
	collect(l)

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	events := waitEvents(t, l, 1)
	assert.Equal(t, types.EventHeartbeat, events[0].Type)
	assert.Equal(t, "w1", events[0].WorkerID)
}
